package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
)

// Subscription is a live workspace-scoped push channel.
//
// Events are delivered on Events() as they arrive from the server. The
// transport guarantees neither ordering nor exactly-once delivery; the
// reconciler's version checks absorb duplicates and reordering.
//
// When the underlying connection fails, Events() is closed and Err()
// reports why. The engine treats a closed subscription as degraded state
// and falls back to polling until the next reconnect attempt; it never
// goes silent.
type Subscription struct {
	conn   *websocket.Conn
	events chan *model.Event
	done   chan struct{}
	cancel context.CancelFunc

	err error
}

// Subscribe opens a push subscription for one workspace. The session token
// is presented once on the websocket handshake; a reconnect performs a
// fresh handshake with the then-current token.
func (c *Client) Subscribe(ctx context.Context, workspaceID string) (*Subscription, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspaceID cannot be empty")
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get session token: %w", err)
	}

	q := url.Values{}
	q.Set("workspace", workspaceID)
	endpoint := c.baseURL + "/api/sync/subscribe?" + q.Encode()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: c.httpc,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrUnauthorized
		}
		return nil, &transientError{cause: err}
	}

	readCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		conn:   conn,
		events: make(chan *model.Event, 64),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go sub.readLoop(readCtx, c)
	return sub, nil
}

// Events returns the delivery channel. It is closed when the subscription
// ends for any reason; check Err() afterwards.
func (s *Subscription) Events() <-chan *model.Event {
	return s.events
}

// Err returns the error that ended the subscription, or nil after a clean
// Close.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

// Close tears the subscription down.
func (s *Subscription) Close() error {
	s.cancel()
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	<-s.done
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close subscription: %w", err)
	}
	return nil
}

func (s *Subscription) readLoop(ctx context.Context, c *Client) {
	defer close(s.done)
	defer close(s.events)

	for {
		_, frame, err := s.conn.Read(ctx)
		if err != nil {
			// Normal closure and context cancellation are a clean end;
			// anything else marks the channel degraded.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return
			}
			s.err = fmt.Errorf("push subscription lost: %w", err)
			return
		}

		ev, err := model.DecodeEvent(frame)
		if err != nil {
			// Reject unknown shapes at the boundary but keep the
			// subscription alive; one bad frame is not a dead channel.
			c.logger.Printf("Warning: dropping invalid push frame: %v", err)
			continue
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
