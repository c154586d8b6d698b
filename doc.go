/*
Package tagcast is a tag based publish/subscribe message broker.

Publishers send messages carrying one or more tags. Subscribers register an
interest set of tags and receive every message whose tags intersect it, first
the retained history and then live traffic, each message exactly once and in
publish order. Tags compare case-insensitively and a delivered message only
carries the tags the subscriber asked for.

# Layout

  - tags: normalized tag sets and the matching rules
  - messages: the message model and its wire encodings
  - transport: adapters that deliver to a subscriber (TCP connection,
    WebSocket stream, NATS subject, channel, function)
  - client: a Go client for the TCP protocol
  - internal/broker: the broker, history replay and slow subscriber eviction
  - internal/server/{tcp,httpapi,natsapi}: the inbound front ends
  - cmd/tagcastd: the daemon
  - cmd/tagcast: a command line publisher and receiver

# Basic Usage

Run the daemon and talk to it with the CLI:

	tagcastd --tcp-addr :5001 --http-addr :5000
	tagcast receive alert,info
	tagcast send alert "disk almost full"

Or from Go:

	c, err := client.Dial(ctx, "127.0.0.1:5001")
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.Subscribe(ctx, tags.New("alert"), 0); err != nil {
		return err
	}
	for msg := range c.Messages() {
		fmt.Println(msg.Seq, msg.Tags, msg.Content)
	}

The raw TCP protocol stays compatible with plain line based tools: a
"SUBSCRIBE:alert,info" line subscribes, "UNSUBSCRIBE" ends it, and any other
line is a JSON message such as {"Type":"alert","Content":"hello"}.
*/
package tagcast
