package remote

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
)

// pushServer upgrades connections and sends the scripted frames
func pushServer(t *testing.T, frames []string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("workspace") == "" {
			t.Error("workspace parameter missing on subscribe")
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			t.Errorf("Accept() failed: %v", err)
			return
		}

		ctx := context.Background()
		for _, frame := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the connection open until the client closes it.
		conn.Read(ctx)
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL: srv.URL,
		Token: func(ctx context.Context) (string, error) {
			return "tok-1", nil
		},
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	return c
}

// TestSubscribe_DeliversEvents tests push frames flowing end to end
func TestSubscribe_DeliversEvents(t *testing.T) {
	c := pushServer(t, []string{
		`{"type":"update","record":{"id":"c1","workspaceId":"ws1","kind":"card","version":4,"data":{"title":"x"}}}`,
		`{"type":"delete","kind":"card","id":"c2","version":7}`,
	})

	sub, err := c.Subscribe(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Close()

	first := waitEvent(t, sub)
	if first.Type != model.EventUpdate || first.ID != "c1" || first.Version != 4 {
		t.Errorf("first event = %+v, want update c1 v4", first)
	}

	second := waitEvent(t, sub)
	if second.Type != model.EventDelete || second.ID != "c2" {
		t.Errorf("second event = %+v, want delete c2", second)
	}
}

// TestSubscribe_DropsInvalidFrames tests that one bad frame does not
// kill the subscription
func TestSubscribe_DropsInvalidFrames(t *testing.T) {
	c := pushServer(t, []string{
		`{"type":"upsert","id":"junk"}`,
		`{"type":"delete","kind":"card","id":"c2","version":1}`,
	})

	sub, err := c.Subscribe(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Close()

	ev := waitEvent(t, sub)
	if ev.Type != model.EventDelete || ev.ID != "c2" {
		t.Errorf("event = %+v, want the valid delete after the junk frame", ev)
	}
}

// TestSubscribe_UnauthorizedHandshake tests auth rejection at dial time
func TestSubscribe_UnauthorizedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL: srv.URL,
		Token: func(ctx context.Context) (string, error) {
			return "expired", nil
		},
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	if _, err := c.Subscribe(context.Background(), "ws1"); err != ErrUnauthorized {
		t.Errorf("Subscribe() = %v, want ErrUnauthorized", err)
	}
}

func waitEvent(t *testing.T, sub *Subscription) *model.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed early: %v", sub.Err())
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event within 2s")
	}
	return nil
}
