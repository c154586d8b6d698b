// Package tags defines topic labels and the matching rules between a message's
// tags and a subscriber's interest set.
//
// Tags are case-insensitive: "Alert", "alert" and "ALERT" name the same topic.
// Comparison uses Unicode case folding, so labels outside ASCII behave the same
// way. This package is the only place where tag comparison is defined; routing,
// replay and the registry all go through Matches and Intersect.
//
// Example usage:
//
//	interest := tags.Parse("info, alert")
//	if tags.Matches(tags.New("Alert"), interest) {
//	    // deliver
//	}
package tags
