package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"spectrum-etl/internal/cpuload"
)

func stateChanged(entity, state string) map[string]any {
	return map[string]any{
		"id":   subscriptionID,
		"type": "event",
		"event": map[string]any{
			"event_type": "state_changed",
			"data": map[string]any{
				"entity_id": entity,
				"new_state": map[string]any{"state": state},
			},
		},
	}
}

// fakeHA runs the auth handshake, then sends events and waits for the client
// to hang up.
func fakeHA(t *testing.T, token string, events []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = wsjson.Write(ctx, conn, map[string]any{"type": "auth_required"})
		var auth map[string]any
		if err := wsjson.Read(ctx, conn, &auth); err != nil {
			return
		}
		if auth["type"] != "auth" || auth["access_token"] != token {
			_ = wsjson.Write(ctx, conn, map[string]any{"type": "auth_invalid", "message": "Invalid access token"})
			return
		}
		_ = wsjson.Write(ctx, conn, map[string]any{"type": "auth_ok"})

		var sub map[string]any
		if err := wsjson.Read(ctx, conn, &sub); err != nil {
			return
		}
		if sub["type"] != "subscribe_events" || sub["event_type"] != "state_changed" {
			t.Errorf("unexpected subscription %v", sub)
			return
		}
		if _, ok := sub["event"]; ok {
			t.Errorf("subscription must not carry an event key: %v", sub)
		}
		_ = wsjson.Write(ctx, conn, map[string]any{"id": subscriptionID, "type": "result", "success": true})

		for _, ev := range events {
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
		// Block until the client closes.
		_, _, _ = conn.Read(ctx)
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestHomeAssistantYieldsSpectrumStates(t *testing.T) {
	events := []map[string]any{
		stateChanged("sensor.other", "12"),
		stateChanged("sensor.cpu", "37.5"),
		stateChanged("text_sensor.spectrum", `{"rms":1.5}`),
		stateChanged("sensor.cpu", "unavailable"),
		stateChanged("text_sensor.spectrum", "unknown"),
	}
	srv := fakeHA(t, "tok", events)
	defer srv.Close()

	cache := cpuload.NewCache()
	ha := NewHomeAssistant(HomeAssistantOptions{
		URL:            wsURL(srv),
		Token:          "tok",
		SpectrumEntity: "text_sensor.spectrum",
		CPULoadEntity:  "sensor.cpu",
		Cache:          cache,
	})
	defer ha.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg, err := ha.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.Payload != `{"rms":1.5}` {
		t.Fatalf("unexpected payload %q", msg.Payload)
	}
	if v, ok := cache.Reader().LatestCPULoad(); !ok || v != 37.5 {
		t.Fatalf("expected cached cpu load 37.5, got %v (ok=%v)", v, ok)
	}

	msg, err = ha.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.Payload != "unknown" {
		t.Fatalf("unexpected payload %q", msg.Payload)
	}
	if v, _ := cache.Reader().LatestCPULoad(); v != 37.5 {
		t.Fatalf("non-numeric cpu state must not overwrite cache, got %v", v)
	}
}

func TestHomeAssistantAuthInvalid(t *testing.T) {
	srv := fakeHA(t, "right", nil)
	defer srv.Close()

	ha := NewHomeAssistant(HomeAssistantOptions{URL: wsURL(srv), Token: "wrong", SpectrumEntity: "x"})
	defer ha.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ha.Next(ctx); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}
