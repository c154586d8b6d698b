// Package client speaks the tagcast TCP line protocol.
//
// A Client owns one connection. Requests are answered in order, so a Client
// runs one request at a time; message frames for the connection's
// subscription arrive on Messages and must be consumed.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/pkg/slogx"
	"github.com/casualjim/tagcast/tags"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrClosed is returned once the connection is gone.
var ErrClosed = errors.New("client closed")

// ServerError is a request the server answered with an error frame.
type ServerError struct {
	Op   string
	Info string
}

func (e *ServerError) Error() string {
	if e.Op == "" {
		return "tagcast: " + e.Info
	}
	return fmt.Sprintf("tagcast %s: %s", e.Op, e.Info)
}

var (
	WithLogger        = opts.ForName[Client, *slog.Logger]("logger")
	WithBuffer        = opts.ForName[Client, int]("buffer")
	WithWriteTimeout  = opts.ForName[Client, time.Duration]("writeTimeout")
	WithMaxFrameBytes = opts.ForName[Client, int]("maxFrameBytes")
)

type reply struct {
	op  string
	id  string
	seq uint64
	err error
}

type Client struct {
	conn          net.Conn
	logger        *slog.Logger
	buffer        int
	writeTimeout  time.Duration
	maxFrameBytes int

	reqMu    sync.Mutex
	replies  chan reply
	messages chan messages.Message

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial connects to a tagcast server.
func Dial(ctx context.Context, addr string, options ...opts.Option[Client]) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, options...), nil
}

// New wraps an established connection and starts reading from it.
func New(conn net.Conn, options ...opts.Option[Client]) *Client {
	c := &Client{
		conn:          conn,
		buffer:        256,
		writeTimeout:  5 * time.Second,
		maxFrameBytes: 1 << 20,
		replies:       make(chan reply, 1),
		done:          make(chan struct{}),
	}
	if err := opts.Apply(c, options); err != nil {
		panic(err)
	}
	if c.buffer < 0 {
		c.buffer = 0
	}
	c.logger = slogx.Component(c.logger, "client")
	c.messages = make(chan messages.Message, c.buffer)
	go c.readLoop()
	return c
}

// Messages delivers message frames for this connection's subscription. It is
// closed when the connection ends.
func (c *Client) Messages() <-chan messages.Message {
	return c.messages
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Publish sends msg and returns the sequence number the broker assigned.
func (c *Client) Publish(ctx context.Context, msg messages.Message) (uint64, error) {
	frame, err := json.Marshal(messages.PublishRequest{
		Sender:  msg.Sender,
		Tags:    []string(msg.Tags),
		Content: msg.Content,
	})
	if err != nil {
		return 0, fmt.Errorf("encode publish: %w", err)
	}
	frame, err = sjson.SetBytes(frame, "op", "publish")
	if err != nil {
		return 0, fmt.Errorf("encode publish: %w", err)
	}

	r, err := c.request(ctx, frame)
	if err != nil {
		return 0, err
	}
	return r.seq, nil
}

// Subscribe registers this connection for interest, replaying history after
// since. It returns the subscriber id.
func (c *Client) Subscribe(ctx context.Context, interest tags.Set, since uint64) (string, error) {
	return c.SubscribeAs(ctx, "", interest, since)
}

// SubscribeAs is Subscribe with an explicit subscriber id.
func (c *Client) SubscribeAs(ctx context.Context, id string, interest tags.Set, since uint64) (string, error) {
	frame, _ := sjson.SetBytes([]byte(`{"op":"subscribe"}`), "tags", []string(interest))
	if id != "" {
		frame, _ = sjson.SetBytes(frame, "id", id)
	}
	if since > 0 {
		frame, _ = sjson.SetBytes(frame, "since", since)
	}

	r, err := c.request(ctx, frame)
	if err != nil {
		return "", err
	}
	return r.id, nil
}

// Unsubscribe drops this connection's subscription.
func (c *Client) Unsubscribe(ctx context.Context) error {
	_, err := c.request(ctx, []byte(`{"op":"unsubscribe"}`))
	return err
}

func (c *Client) request(ctx context.Context, frame []byte) (reply, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.write(ctx, frame); err != nil {
		return reply{}, err
	}

	select {
	case r := <-c.replies:
		return r, r.err
	case <-c.done:
		return reply{}, ErrClosed
	case <-ctx.Done():
		// the reply can no longer be matched to its request
		_ = c.Close()
		return reply{}, ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.conn.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.messages)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), c.maxFrameBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.dispatch(line)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.shutdown(err)
}

func (c *Client) dispatch(line []byte) {
	root := gjson.ParseBytes(line)
	switch root.Get("type").String() {
	case "message":
		msg, err := messages.Decode(line)
		if err != nil {
			c.logger.Warn("dropping undecodable message frame", slogx.Error(err))
			return
		}
		select {
		case c.messages <- msg:
		case <-c.done:
		}
	case "ack":
		c.deliverReply(reply{
			op:  root.Get("op").String(),
			id:  root.Get("id").String(),
			seq: root.Get("seq").Uint(),
		})
	case "error":
		op := root.Get("op").String()
		c.deliverReply(reply{op: op, err: &ServerError{Op: op, Info: root.Get("error").String()}})
	default:
		c.logger.Debug("ignoring unknown frame", slogx.ByteString("frame", line))
	}
}

func (c *Client) deliverReply(r reply) {
	select {
	case c.replies <- r:
	case <-c.done:
	}
}

func (c *Client) shutdown(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Close closes the connection. The server drops the subscription.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}
