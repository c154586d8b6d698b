package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/casualjim/tagcast/internal/broker"
	"github.com/casualjim/tagcast/internal/metrics"
	"github.com/casualjim/tagcast/internal/workerpool"
	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/pkg/slogx"
	"github.com/casualjim/tagcast/pkg/uuidx"
	"github.com/casualjim/tagcast/tags"
	"github.com/casualjim/tagcast/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/tidwall/sjson"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case broker.IsBadRequest(err):
		metrics.IncRejected("bad_request")
		status = http.StatusBadRequest
	case errors.Is(err, broker.ErrClosed), errors.Is(err, workerpool.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, broker.Failure(err))
}

func publishLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.IncRejected("rate_limited")
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, messages.Reply{Info: "Too many requests. Please try again later."})
		}),
	)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": len(s.broker.Subscribers()),
		"last_seq":    s.broker.LastSeq(),
	})
}

// publish accepts the documented PublishRequest as well as the legacy
// {"Type","Content"} shape.
func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	metrics.IncInbound("http", "publish")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, messages.Reply{Info: err.Error()})
		return
	}
	msg, err := messages.Decode(body)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if msg.Sender == "" {
		msg.Sender = r.RemoteAddr
	}

	var recorded messages.Message
	var publishErr error
	if err := s.pool.Do(r.Context(), func(context.Context) {
		recorded, publishErr = s.broker.Publish(r.Context(), msg)
	}); err != nil {
		s.writeFailure(w, err)
		return
	}
	if publishErr != nil {
		s.writeFailure(w, publishErr)
		return
	}
	writeJSON(w, http.StatusOK, messages.Reply{Success: true, Seq: recorded.Seq})
}

// history previews what a subscriber with the given interest would replay.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	interest := tags.Parse(r.URL.Query().Get("tags"))
	if interest.Empty() {
		s.writeFailure(w, broker.ErrInvalidInterestSet)
		return
	}
	since, err := parseSince(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messages.Reply{Info: err.Error()})
		return
	}

	out := make([]messages.Message, 0)
	for _, msg := range s.broker.History(interest) {
		if msg.Seq > since {
			out = append(out, msg.Restrict(interest))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "seq")
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messages.Reply{Info: fmt.Sprintf("invalid sequence number %q", raw)})
		return
	}
	msg, ok := s.broker.Message(seq)
	if !ok {
		writeJSON(w, http.StatusNotFound, messages.Reply{Info: fmt.Sprintf("message %d not found", seq)})
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) subscriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Subscribers())
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	metrics.IncInbound("http", "unsubscribe")
	s.broker.Unsubscribe(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// subscribe upgrades to a WebSocket and streams messages until the client
// goes away or the subscriber is evicted. The first frame is an ack carrying
// the subscriber id.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	metrics.IncInbound("http", "subscribe")

	query := r.URL.Query()
	interest := tags.Parse(query.Get("tags"))
	if interest.Empty() {
		s.writeFailure(w, broker.ErrInvalidInterestSet)
		return
	}
	since, err := parseSince(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messages.Reply{Info: err.Error()})
		return
	}
	id := query.Get("id")
	if id == "" {
		id = uuidx.WithPrefix("ws")
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		s.logger.Debug("websocket upgrade failed", slogx.Error(err))
		return
	}
	stream := transport.NewStream(conn, s.writeTimeout)
	defer stream.Close()

	ctx := r.Context()
	gate := transport.NewGate(stream)
	var sub broker.Subscription
	var subscribeErr error
	err = s.pool.Do(ctx, func(context.Context) {
		sub, subscribeErr = s.broker.Subscribe(ctx, broker.Subscriber{
			ID:       id,
			Interest: interest,
			Sender:   gate,
			Since:    since,
		})
	})
	if err == nil {
		err = subscribeErr
	}
	if err != nil {
		frame, _ := sjson.SetBytes([]byte(`{"type":"error","op":"subscribe"}`), "error", broker.Failure(err).Info)
		_ = stream.WriteFrame(ctx, frame)
		return
	}

	ack, _ := sjson.SetBytes([]byte(`{"type":"ack","op":"subscribe"}`), "id", id)
	ack, _ = sjson.SetBytes(ack, "tags", []string(sub.Interest()))
	if err := stream.WriteFrame(ctx, ack); err != nil {
		sub.Unsubscribe()
		return
	}
	gate.Open()

	// the client sends nothing; reading surfaces its close frame
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-closed:
		sub.Unsubscribe()
	case <-sub.Done():
		s.logger.Debug("websocket subscription ended",
			slog.String("subscriber", id),
			slogx.Error(sub.Err()),
		)
	}
}

func parseSince(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid since %q: %w", raw, err)
	}
	return since, nil
}
