package subgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lending-risk-lab/internal/observability"
)

// graphql-transport-ws message types.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// subprotocol is the websocket subprotocol of the graphql-ws library.
const subprotocol = "graphql-transport-ws"

// ErrSubscription is returned when the server rejects or aborts a subscription.
var ErrSubscription = errors.New("subscription failed")

// SubscriberConfig configures websocket behavior.
type SubscriberConfig struct {
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// AckTimeout bounds the wait for connection_ack.
	AckTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// PageSize is the $first variable of the live query.
	PageSize int
}

// DefaultSubscriberConfig returns default websocket configuration.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		HandshakeTimeout: 10 * time.Second,
		AckTimeout:       10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PageSize:         DefaultPageSize,
	}
}

// Subscriber streams new transactions over a graphql-transport-ws websocket.
type Subscriber struct {
	endpoint string
	config   SubscriberConfig
	logger   *zap.Logger
}

// NewSubscriber creates a subscriber. A nil config uses DefaultSubscriberConfig.
func NewSubscriber(endpoint string, config *SubscriberConfig, logger *zap.Logger) *Subscriber {
	cfg := DefaultSubscriberConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{endpoint: endpoint, config: cfg, logger: logger}
}

// wsMessage is one graphql-transport-ws frame.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives every flattened result set pushed by the server.
// Returning an error ends the subscription with that error.
type Handler func(ctx context.Context, events []map[string]any) error

// Subscribe streams transactions newer than after until ctx is done, the
// server completes the subscription, or handle fails. The connection is not
// re-established on failure.
func (s *Subscriber) Subscribe(ctx context.Context, after int64, handle Handler) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.config.HandshakeTimeout,
		Subprotocols:     []string{subprotocol},
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON when the caller cancels.
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if err := s.handshake(conn); err != nil {
		return s.wrap(ctx, err)
	}

	payload, err := json.Marshal(graphQLRequest{
		Query: liveQuery,
		Variables: map[string]any{
			"first": s.config.PageSize,
			"after": after,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal subscribe payload: %w", err)
	}
	if err := s.write(conn, wsMessage{ID: "1", Type: msgSubscribe, Payload: payload}); err != nil {
		return s.wrap(ctx, fmt.Errorf("write subscribe: %w", err))
	}

	s.logger.Info("subscription started", zap.Int64("after", after))

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return s.wrap(ctx, fmt.Errorf("read message: %w", err))
		}

		switch msg.Type {
		case msgNext:
			observability.RecordStreamMessage()
			events, err := decodeNext(msg.Payload)
			if err != nil {
				return err
			}
			if err := handle(ctx, events); err != nil {
				return err
			}
		case msgPing:
			if err := s.write(conn, wsMessage{Type: msgPong}); err != nil {
				return s.wrap(ctx, fmt.Errorf("write pong: %w", err))
			}
		case msgError:
			return fmt.Errorf("%w: %s", ErrSubscription, string(msg.Payload))
		case msgComplete:
			s.logger.Info("subscription completed by server")
			return nil
		default:
			s.logger.Debug("ignoring message", zap.String("type", msg.Type))
		}
	}
}

func (s *Subscriber) handshake(conn *websocket.Conn) error {
	if err := s.write(conn, wsMessage{Type: msgConnectionInit}); err != nil {
		return fmt.Errorf("write connection_init: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(s.config.AckTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read connection_ack: %w", err)
		}
		switch msg.Type {
		case msgConnectionAck:
			return nil
		case msgPing:
			if err := s.write(conn, wsMessage{Type: msgPong}); err != nil {
				return fmt.Errorf("write pong: %w", err)
			}
		default:
			return fmt.Errorf("%w: expected connection_ack, got %q", ErrSubscription, msg.Type)
		}
	}
}

func (s *Subscriber) write(conn *websocket.Conn, msg wsMessage) error {
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return conn.WriteJSON(msg)
}

// wrap reports cancellation instead of the read error it caused.
func (s *Subscriber) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func decodeNext(payload json.RawMessage) ([]map[string]any, error) {
	txs, err := decodeTransactions(payload)
	if err != nil {
		return nil, err
	}
	return FlattenTransactions(txs)
}
