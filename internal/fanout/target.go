package fanout

import (
	"context"
	"fmt"
	"time"

	"relief-service/internal/models"
)

type TargetKind string

const (
	KindUser     TargetKind = "user"
	KindRole     TargetKind = "role"
	KindLocation TargetKind = "location"
	KindPublic   TargetKind = "public"
	KindAll      TargetKind = "all"
)

// Target names a room of live connections.
type Target struct {
	Kind TargetKind `json:"kind"`
	Key  string     `json:"key,omitempty"`
}

func User(id string) Target        { return Target{Kind: KindUser, Key: id} }
func Role(role models.Role) Target { return Target{Kind: KindRole, Key: string(role)} }
func Location(room string) Target  { return Target{Kind: KindLocation, Key: room} }
func Public() Target               { return Target{Kind: KindPublic} }
func All() Target                  { return Target{Kind: KindAll} }

func (t Target) String() string {
	if t.Key == "" {
		return string(t.Kind)
	}
	return fmt.Sprintf("%s:%s", t.Kind, t.Key)
}

// GeoBroadcast splits the subscription table around an origin: subscriptions
// within RadiusKm get Local, every other subscription gets General. Without an
// origin every subscription gets General. Members of Room that hold no
// subscription get Local. A connection receives at most one variant.
type GeoBroadcast struct {
	Lat      *float64        `json:"lat,omitempty"`
	Lng      *float64        `json:"lng,omitempty"`
	RadiusKm float64         `json:"radius_km"`
	Room     string          `json:"room,omitempty"`
	Local    models.Envelope `json:"local"`
	General  models.Envelope `json:"general"`
}

// Intent is one outbound delivery request: either a named target or a geo broadcast.
type Intent struct {
	Target   Target          `json:"target"`
	Envelope models.Envelope `json:"envelope"`
	Geo      *GeoBroadcast   `json:"geo,omitempty"`
}

// Publisher accepts intents for delivery.
type Publisher interface {
	Publish(ctx context.Context, intent Intent) error
}

// To builds an intent delivering ev to target.
func To(target Target, ev models.Event, at time.Time) (Intent, error) {
	env, err := models.NewEnvelope(ev, at)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Target: target, Envelope: env}, nil
}

// Nearby builds a geo broadcast intent for the local and general variants of an alert.
// An empty room skips the room pass.
func Nearby(lat, lng *float64, radiusKm float64, room string, local, general models.Event, at time.Time) (Intent, error) {
	localEnv, err := models.NewEnvelope(local, at)
	if err != nil {
		return Intent{}, err
	}
	generalEnv, err := models.NewEnvelope(general, at)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Geo: &GeoBroadcast{
		Lat:      lat,
		Lng:      lng,
		RadiusKm: radiusKm,
		Room:     room,
		Local:    localEnv,
		General:  generalEnv,
	}}, nil
}

// Discard drops every intent.
type Discard struct{}

func (Discard) Publish(ctx context.Context, intent Intent) error { return nil }
