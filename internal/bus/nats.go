package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"relief-service/internal/fanout"
	"relief-service/internal/logging"
)

// NATS publishes intents on a subject shared by every instance. Each instance
// subscribes and feeds its own router, so an intent reaches connections held
// anywhere in the cluster.
type NATS struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	router  fanout.Publisher
	logger  *logging.Logger
}

// NewNATS connects to url and starts delivering subject messages to router.
func NewNATS(url, subject string, router fanout.Publisher, logger *logging.Logger) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("relief-service"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := &NATS{conn: conn, subject: subject, router: router, logger: logger}
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		b.Handle(msg.Data)
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	b.sub = sub
	logger.Infof("Fan-out bus subscribed to %s", subject)
	return b, nil
}

// Publish sends the intent to every instance, including this one.
func (b *NATS) Publish(ctx context.Context, intent fanout.Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("failed to publish intent: %w", err)
	}
	return nil
}

// Handle decodes one bus message and delivers it locally.
func (b *NATS) Handle(data []byte) {
	intent, err := DecodeIntent(data)
	if err != nil {
		b.logger.Errorf("Dropping bus message: %v", err)
		return
	}
	if err := b.router.Publish(context.Background(), intent); err != nil {
		b.logger.Errorf("Delivery of %s failed: %v", intent.Envelope.Event, err)
	}
}

func (b *NATS) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.conn.Close()
}

// DecodeIntent parses a bus payload.
func DecodeIntent(data []byte) (fanout.Intent, error) {
	var intent fanout.Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return fanout.Intent{}, fmt.Errorf("invalid intent payload: %w", err)
	}
	if intent.Geo == nil && intent.Target.Kind == "" {
		return fanout.Intent{}, fmt.Errorf("intent has no target")
	}
	return intent, nil
}
