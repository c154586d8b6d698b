package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/casualjim/tagcast/internal/broker"
	"github.com/casualjim/tagcast/internal/server/tcp"
	"github.com/casualjim/tagcast/internal/workerpool"
	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (broker.Broker, string) {
	t.Helper()

	b := broker.Local()
	pool := workerpool.New(workerpool.WithWorkers(2))
	srv := tcp.New(b, pool)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	poolDone, serveDone := make(chan error, 1), make(chan error, 1)
	go func() { poolDone <- pool.Run(ctx) }()
	go func() { serveDone <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-serveDone
		<-poolDone
		_ = b.Close(context.Background())
	})
	return b, ln.Addr().String()
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, c *Client) messages.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		require.True(t, ok, "connection ended: %v", c.Err())
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for a message")
		return messages.Message{}
	}
}

func TestClient_PublishSubscribe(t *testing.T) {
	b, addr := startServer(t)
	ctx := context.Background()
	publisher, receiver := dial(t, addr), dial(t, addr)

	seq, err := publisher.Publish(ctx, messages.New("p", tags.New("Alert"), "fire"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	id, err := receiver.Subscribe(ctx, tags.New("alert", "info"), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "fire", next(t, receiver).Content, "history is replayed")

	_, err = publisher.Publish(ctx, messages.New("p", tags.New("Error"), "ignored"))
	require.NoError(t, err)
	_, err = publisher.Publish(ctx, messages.New("p", tags.New("Info", "Debug"), "ok"))
	require.NoError(t, err)

	msg := next(t, receiver)
	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, "p", msg.Sender)
	assert.Equal(t, tags.Set{"Info"}, msg.Tags)
	assert.Equal(t, uint64(3), msg.Seq)

	require.NoError(t, receiver.Unsubscribe(ctx))
	assert.Empty(t, b.Subscribers())
}

func TestClient_SubscribeAs(t *testing.T) {
	b, addr := startServer(t)
	c := dial(t, addr)

	id, err := c.SubscribeAs(context.Background(), "dashboard", tags.New("Info"), 0)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", id)
	assert.Equal(t, "dashboard", b.Subscribers()[0].ID)
}

func TestClient_ServerErrors(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	ctx := context.Background()

	_, err := c.Publish(ctx, messages.New("p", nil, "no tags"))
	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "publish", serr.Op)
	assert.Equal(t, broker.InfoTagsRequired, serr.Info)

	_, err = c.Subscribe(ctx, tags.New(), 0)
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "subscribe", serr.Op)

	// the connection survives rejected requests
	_, err = c.Publish(ctx, messages.New("p", tags.New("x"), "ok"))
	assert.NoError(t, err)
}

func TestClient_Close(t *testing.T) {
	b, addr := startServer(t)
	c := dial(t, addr)

	_, err := c.Subscribe(context.Background(), tags.New("x"), 0)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	<-c.Done()
	_, open := <-c.Messages()
	assert.False(t, open)
	assert.ErrorIs(t, c.Err(), ErrClosed)

	_, err = c.Publish(context.Background(), messages.New("p", tags.New("x"), "late"))
	assert.ErrorIs(t, err, ErrClosed)

	require.Eventually(t, func() bool {
		return len(b.Subscribers()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerError(t *testing.T) {
	assert.Equal(t, "tagcast publish: Tags are required.", (&ServerError{Op: "publish", Info: "Tags are required."}).Error())
	assert.Equal(t, "tagcast: unrecognized command", (&ServerError{Info: "unrecognized command"}).Error())
}
