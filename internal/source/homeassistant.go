package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"spectrum-etl/internal/cpuload"
	"spectrum-etl/internal/logger"
	"spectrum-etl/internal/model"
)

var (
	ErrAuth     = errors.New("home assistant auth failed")
	ErrProtocol = errors.New("home assistant protocol error")
)

const subscriptionID = 1

type haMessage struct {
	ID          int      `json:"id,omitempty"`
	Type        string   `json:"type"`
	AccessToken string   `json:"access_token,omitempty"`
	EventType   string   `json:"event_type,omitempty"`
	Success     *bool    `json:"success,omitempty"`
	Message     string   `json:"message,omitempty"`
	Event       *haEvent `json:"event,omitempty"`
}

type haEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string `json:"entity_id"`
		NewState *struct {
			State string `json:"state"`
		} `json:"new_state"`
	} `json:"data"`
}

// HomeAssistantOptions configures a HomeAssistant source.
type HomeAssistantOptions struct {
	URL            string
	Token          string
	SpectrumEntity string
	// CPULoadEntity state changes are written to Cache when both are set.
	CPULoadEntity string
	Cache         *cpuload.Cache
}

// HomeAssistant subscribes to state_changed events over the Home Assistant
// websocket API and yields spectrum entity states as messages.
type HomeAssistant struct {
	opts HomeAssistantOptions
	conn *websocket.Conn
}

func NewHomeAssistant(opts HomeAssistantOptions) *HomeAssistant {
	return &HomeAssistant{opts: opts}
}

// Connect dials, authenticates and subscribes. Next calls it when needed.
func (h *HomeAssistant) Connect(ctx context.Context) error {
	if h.conn != nil {
		return nil
	}
	conn, resp, err := websocket.Dial(ctx, h.opts.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", h.opts.URL, err)
	}
	conn.SetReadLimit(1 << 20)

	if err := handshake(ctx, conn, h.opts.Token); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return err
	}
	h.conn = conn
	logger.Info("subscribed to home assistant",
		zap.String("url", h.opts.URL),
		zap.String("spectrum_entity", h.opts.SpectrumEntity),
		zap.String("cpu_load_entity", h.opts.CPULoadEntity),
	)
	return nil
}

func handshake(ctx context.Context, conn *websocket.Conn, token string) error {
	var msg haMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		return fmt.Errorf("%w: read greeting: %v", ErrProtocol, err)
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("%w: expected auth_required, got %q", ErrProtocol, msg.Type)
	}
	if err := wsjson.Write(ctx, conn, haMessage{Type: "auth", AccessToken: token}); err != nil {
		return fmt.Errorf("%w: send auth: %v", ErrProtocol, err)
	}

	msg = haMessage{}
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		return fmt.Errorf("%w: read auth result: %v", ErrProtocol, err)
	}
	switch msg.Type {
	case "auth_ok":
	case "auth_invalid":
		return fmt.Errorf("%w: %s", ErrAuth, msg.Message)
	default:
		return fmt.Errorf("%w: unexpected %q during auth", ErrProtocol, msg.Type)
	}

	sub := haMessage{ID: subscriptionID, Type: "subscribe_events", EventType: "state_changed"}
	if err := wsjson.Write(ctx, conn, sub); err != nil {
		return fmt.Errorf("%w: subscribe: %v", ErrProtocol, err)
	}
	return nil
}

// Next blocks until the spectrum entity changes state.
func (h *HomeAssistant) Next(ctx context.Context) (model.Message, error) {
	if err := h.Connect(ctx); err != nil {
		return model.Message{}, err
	}
	for {
		var msg haMessage
		if err := wsjson.Read(ctx, h.conn, &msg); err != nil {
			if ctx.Err() != nil {
				return model.Message{}, ctx.Err()
			}
			return model.Message{}, fmt.Errorf("read event: %w", err)
		}

		switch msg.Type {
		case "result":
			if msg.ID == subscriptionID && msg.Success != nil && !*msg.Success {
				return model.Message{}, fmt.Errorf("%w: subscription rejected: %s", ErrProtocol, msg.Message)
			}
			continue
		case "event":
		default:
			continue
		}
		if msg.Event == nil || msg.Event.EventType != "state_changed" || msg.Event.Data.NewState == nil {
			continue
		}

		state := msg.Event.Data.NewState.State
		switch msg.Event.Data.EntityID {
		case h.opts.SpectrumEntity:
			return model.Message{Payload: state}, nil
		case h.opts.CPULoadEntity:
			h.recordCPULoad(state)
		}
	}
}

func (h *HomeAssistant) recordCPULoad(state string) {
	if h.opts.Cache == nil || h.opts.CPULoadEntity == "" {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(state), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		logger.Debug("ignoring non-numeric cpu load state", zap.String("state", state))
		return
	}
	h.opts.Cache.SetLatest(v)
}

func (h *HomeAssistant) Close() error {
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close(websocket.StatusNormalClosure, "client shutdown")
	h.conn = nil
	return err
}
