package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dvloznov/spendwise/internal/store"
)

const (
	// realtimeTopic is the Phoenix channel carrying change events for the
	// expenses table.
	realtimeTopic = "realtime:public:expenses"

	heartbeatInterval = 30 * time.Second
	maxReconnectWait  = 30 * time.Second
)

// phoenixMessage is the Phoenix channel wire frame used by the Supabase
// realtime service in both directions.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// changePayload is the body of an INSERT/UPDATE/DELETE event.
type changePayload struct {
	Record    *expenseRow `json:"record"`
	OldRecord *expenseRow `json:"old_record"`
}

// Subscribe connects to the realtime websocket and delivers change events
// for the expenses table to fn until ctx is cancelled. Connection drops are
// retried with exponential backoff; events are at-least-once from the
// consumer's point of view, which is fine because consumers respond with a
// full reload rather than an incremental merge.
func (s *Store) Subscribe(ctx context.Context, fn func(store.ChangeEvent)) error {
	wsURL := realtimeURL(s.projectURL, s.anonKey)

	wait := time.Second
	for {
		err := s.listenOnce(ctx, wsURL, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("Realtime connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if wait *= 2; wait > maxReconnectWait {
			wait = maxReconnectWait
		}
	}
}

// listenOnce runs a single websocket session: dial, join the channel, keep
// heartbeats flowing, and fan events out to fn until the connection fails
// or ctx is cancelled.
func (s *Store) listenOnce(ctx context.Context, wsURL string, fn func(store.ChangeEvent)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("listenOnce: dialing realtime websocket: %w", err)
	}
	defer conn.Close()

	var (
		writeMu sync.Mutex
		refSeq  int
	)
	send := func(topic, event string, payload interface{}) error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		refSeq++
		return conn.WriteJSON(phoenixMessage{
			Topic:   topic,
			Event:   event,
			Payload: raw,
			Ref:     strconv.Itoa(refSeq),
		})
	}

	if err := send(realtimeTopic, "phx_join", struct{}{}); err != nil {
		return fmt.Errorf("listenOnce: joining channel: %w", err)
	}
	s.log.Info().Str("topic", realtimeTopic).Msg("Realtime channel joined")

	// The session dies with ctx: closing the connection unblocks ReadJSON.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := send("phoenix", "heartbeat", struct{}{}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		var msg phoenixMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("listenOnce: reading frame: %w", err)
		}

		switch msg.Event {
		case "phx_reply", "presence_state", "presence_diff":
			// Join acks and presence chatter, nothing to do.
		case "phx_error", "phx_close":
			return fmt.Errorf("listenOnce: channel terminated with %s", msg.Event)
		case string(store.ChangeInsert), string(store.ChangeUpdate), string(store.ChangeDelete):
			fn(decodeChange(msg))
		}
	}
}

// decodeChange converts a mutation frame into a store.ChangeEvent. Decode
// failures still deliver the bare event type; consumers reload either way.
func decodeChange(msg phoenixMessage) store.ChangeEvent {
	event := store.ChangeEvent{Type: store.ChangeType(msg.Event)}

	var payload changePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return event
	}

	row := payload.Record
	if row == nil {
		row = payload.OldRecord
	}
	if row != nil {
		record := row.toDomain(time.Now())
		event.Record = &record
	}
	return event
}

// realtimeURL derives the websocket endpoint from the project URL.
func realtimeURL(projectURL, anonKey string) string {
	base := strings.TrimSuffix(projectURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return fmt.Sprintf("%s/realtime/v1/websocket?apikey=%s&vsn=1.0.0", base, anonKey)
}
