// Package messages defines the message that flows through the broker and the
// request/reply shapes used by every inbound transport.
//
// Design decisions:
//   - Immutable values: a Message is passed by value; once the history log has
//     assigned its sequence number it is never modified, only copied with a
//     narrower tag set (see Restrict).
//   - One wire shape: every transport encodes a Message the same way, a JSON
//     object tagged with "type":"message".
//   - Lenient decoding: inbound messages may carry "tags" as an array or as a
//     comma separated string, and the single-tag shape {"Type":..,"Content":..}
//     is still understood.
//
// Example usage:
//
//	msg := messages.New("sensor-1", tags.New("Alert"), "fire")
//	data, err := json.Marshal(msg)
//	if err != nil {
//	    return err
//	}
//	decoded, err := messages.Decode(data)
package messages
