package providers

import (
	"context"
	"errors"

	"relief-service/internal/models"
)

// Relay forwards an escalation to one operations channel.
type Relay interface {
	RelayEscalation(ctx context.Context, d models.Disaster, e models.Escalation) error
}

// Fanout relays to every channel and joins their failures.
type Fanout []Relay

func (f Fanout) RelayEscalation(ctx context.Context, d models.Disaster, e models.Escalation) error {
	var errs []error
	for _, r := range f {
		if err := r.RelayEscalation(ctx, d, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
