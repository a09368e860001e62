// Package bus carries fan-out intents from the lifecycle managers to the
// routers that own live connections.
package bus

import (
	"context"

	"relief-service/internal/fanout"
	"relief-service/internal/logging"
)

// Local hands intents straight to the router of this process.
type Local struct {
	router fanout.Publisher
	logger *logging.Logger
}

func NewLocal(router fanout.Publisher, logger *logging.Logger) *Local {
	return &Local{router: router, logger: logger}
}

func (l *Local) Publish(ctx context.Context, intent fanout.Intent) error {
	if err := l.router.Publish(ctx, intent); err != nil {
		l.logger.Errorf("Local delivery failed: %v", err)
		return err
	}
	return nil
}
