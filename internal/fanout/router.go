package fanout

import (
	"context"
	"fmt"

	"relief-service/internal/apperr"
	"relief-service/internal/clock"
	"relief-service/internal/logging"
	"relief-service/internal/metrics"
	"relief-service/internal/models"
)

// SubscriptionStore persists geo subscriptions.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, sub models.Subscription) error
	GetSubscription(ctx context.Context, connectionID string) (models.Subscription, error)
	DeleteSubscription(ctx context.Context, connectionID string) error
	ListSubscriptions(ctx context.Context) ([]models.Subscription, error)
}

// Router resolves intents to live connections of this instance and writes
// envelopes to them in call order.
type Router struct {
	members *Membership
	store   SubscriptionStore
	clock   clock.Clock
	logger  *logging.Logger
}

func NewRouter(members *Membership, store SubscriptionStore, clk clock.Clock, logger *logging.Logger) *Router {
	return &Router{members: members, store: store, clock: clk, logger: logger}
}

func (r *Router) Membership() *Membership {
	return r.members
}

// Publish delivers the intent. Connections whose send fails are evicted; a
// failed send is never retried.
func (r *Router) Publish(ctx context.Context, intent Intent) error {
	if intent.Geo != nil {
		return r.publishGeo(ctx, *intent.Geo)
	}
	for _, c := range r.members.Members(intent.Target) {
		r.send(ctx, c, intent.Envelope)
	}
	return nil
}

func (r *Router) publishGeo(ctx context.Context, geo GeoBroadcast) error {
	subs, err := r.store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot subscriptions: %w", err)
	}
	subscribed := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		subscribed[s.ConnectionID] = struct{}{}
	}
	part := PartitionSubscriptions(subs, geo.Lat, geo.Lng, geo.RadiusKm)
	for _, s := range part.Nearby {
		if c, ok := r.members.Lookup(s.ConnectionID); ok {
			r.send(ctx, c, geo.Local)
		}
	}
	for _, s := range part.Others {
		if c, ok := r.members.Lookup(s.ConnectionID); ok {
			r.send(ctx, c, geo.General)
		}
	}
	roomOnly := 0
	if geo.Room != "" {
		for _, c := range r.members.Members(Location(geo.Room)) {
			if _, ok := subscribed[c.ID()]; ok {
				continue
			}
			r.send(ctx, c, geo.Local)
			roomOnly++
		}
	}
	r.logger.Debugf("Geo broadcast: nearby=%d others=%d room=%d", len(part.Nearby), len(part.Others), roomOnly)
	return nil
}

func (r *Router) send(ctx context.Context, c Conn, env models.Envelope) {
	if err := c.Send(env); err != nil {
		r.logger.Errorf("Failed to send %s to connection %s: %v", env.Event, c.ID(), err)
		metrics.DeliveriesTotal.WithLabelValues(env.Event, "failed").Inc()
		r.drop(ctx, c)
		return
	}
	metrics.DeliveriesTotal.WithLabelValues(env.Event, "sent").Inc()
}

// drop evicts a connection after a failed send: it leaves every room, its
// subscription is deleted and the connection itself is closed.
func (r *Router) drop(ctx context.Context, c Conn) {
	r.members.Remove(c.ID())
	metrics.Connections.Set(float64(r.members.Count()))
	if err := r.store.DeleteSubscription(ctx, c.ID()); err != nil {
		r.logger.Errorf("Failed to delete subscription for connection %s: %v", c.ID(), err)
	}
	c.Close()
}

// Connect registers a connection. An identified connection joins its user and
// role rooms, an anonymous one joins the public pool.
func (r *Router) Connect(c Conn, ident *models.Identity) []Target {
	r.members.Add(c)
	var targets []Target
	if ident != nil && ident.UserID != "" {
		targets = []Target{User(ident.UserID)}
		if ident.Role.Valid() {
			targets = append(targets, Role(ident.Role))
		}
	} else {
		targets = []Target{Public()}
	}
	for _, t := range targets {
		_ = r.members.Join(c.ID(), t)
	}
	metrics.Connections.Set(float64(r.members.Count()))
	r.logger.Infof("Connection %s joined %v (total: %d)", c.ID(), targets, r.members.Count())
	return targets
}

// Disconnect drops the connection and its subscription.
func (r *Router) Disconnect(ctx context.Context, connID string) {
	r.members.Remove(connID)
	metrics.Connections.Set(float64(r.members.Count()))
	if err := r.store.DeleteSubscription(ctx, connID); err != nil {
		r.logger.Errorf("Failed to delete subscription for connection %s: %v", connID, err)
	}
	r.logger.Infof("Connection %s left (remaining: %d)", connID, r.members.Count())
}

// JoinLocation adds the connection to the city/state room.
func (r *Router) JoinLocation(connID, city, state string) (Target, error) {
	room := models.RoomFor(city, state)
	if room == "" {
		return Target{}, apperr.Validation("city and state are required")
	}
	t := Location(room)
	if err := r.members.Join(connID, t); err != nil {
		return Target{}, apperr.NotFound("%v", err)
	}
	return t, nil
}

// Subscribe records the connection's position for proximity alerts.
func (r *Router) Subscribe(ctx context.Context, connID string, userID *string, lat, lng float64) (models.Subscription, error) {
	if connID == "" {
		return models.Subscription{}, apperr.Validation("connection_id is required")
	}
	if !ValidPoint(lat, lng) {
		return models.Subscription{}, apperr.Validation("invalid coordinates %.6f,%.6f", lat, lng)
	}
	sub := models.Subscription{
		ConnectionID: connID,
		UserID:       userID,
		Lat:          lat,
		Lng:          lng,
		Guest:        userID == nil,
		UpdatedAt:    r.clock.Now(),
	}
	if err := r.store.UpsertSubscription(ctx, sub); err != nil {
		return models.Subscription{}, err
	}
	return sub, nil
}

func (r *Router) Unsubscribe(ctx context.Context, connID string) error {
	return r.store.DeleteSubscription(ctx, connID)
}

// UnsubscribeAs deletes a subscription on behalf of a caller. A subscription
// owned by a user can only be removed by that user or an administrator.
func (r *Router) UnsubscribeAs(ctx context.Context, connID string, actor *models.Identity) error {
	sub, err := r.store.GetSubscription(ctx, connID)
	if err != nil {
		return err
	}
	if sub.UserID != nil {
		if actor == nil || (actor.UserID != *sub.UserID && !actor.IsAdmin()) {
			return apperr.Forbidden("subscription %s belongs to another user", connID)
		}
	}
	return r.store.DeleteSubscription(ctx, connID)
}
