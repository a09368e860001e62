package fanout

import (
	"fmt"
	"sync"

	"relief-service/internal/models"
)

// Conn is a live connection able to receive envelopes.
type Conn interface {
	ID() string
	Send(env models.Envelope) error
	Close()
}

// Membership maps targets to live connections. It is the only shared mutable
// in-memory state of the service; nothing in it is persisted.
type Membership struct {
	mutex  sync.RWMutex
	conns  map[string]Conn
	rooms  map[Target]map[string]struct{}
	joined map[string]map[Target]struct{}
}

func NewMembership() *Membership {
	return &Membership{
		conns:  make(map[string]Conn),
		rooms:  make(map[Target]map[string]struct{}),
		joined: make(map[string]map[Target]struct{}),
	}
}

// Add registers a connection without joining any room.
func (m *Membership) Add(c Conn) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.conns[c.ID()] = c
	if _, ok := m.joined[c.ID()]; !ok {
		m.joined[c.ID()] = make(map[Target]struct{})
	}
}

// Join puts a registered connection into the room of t.
func (m *Membership) Join(connID string, t Target) error {
	if t.Kind == KindAll {
		return fmt.Errorf("connections cannot join %s explicitly", t)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.conns[connID]; !ok {
		return fmt.Errorf("connection %s is not registered", connID)
	}
	room, ok := m.rooms[t]
	if !ok {
		room = make(map[string]struct{})
		m.rooms[t] = room
	}
	room[connID] = struct{}{}
	m.joined[connID][t] = struct{}{}
	return nil
}

// Leave takes a connection out of a single room.
func (m *Membership) Leave(connID string, t Target) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.leave(connID, t)
}

func (m *Membership) leave(connID string, t Target) {
	if room, ok := m.rooms[t]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(m.rooms, t)
		}
	}
	if targets, ok := m.joined[connID]; ok {
		delete(targets, t)
	}
}

// Remove drops a connection from every room it joined.
func (m *Membership) Remove(connID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for t := range m.joined[connID] {
		m.leave(connID, t)
	}
	delete(m.joined, connID)
	delete(m.conns, connID)
}

// Members returns the connections currently mapped to t.
func (m *Membership) Members(t Target) []Conn {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if t.Kind == KindAll {
		out := make([]Conn, 0, len(m.conns))
		for _, c := range m.conns {
			out = append(out, c)
		}
		return out
	}
	room := m.rooms[t]
	out := make([]Conn, 0, len(room))
	for id := range room {
		out = append(out, m.conns[id])
	}
	return out
}

func (m *Membership) Lookup(connID string) (Conn, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	c, ok := m.conns[connID]
	return c, ok
}

// Targets lists the rooms a connection has joined.
func (m *Membership) Targets(connID string) []Target {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]Target, 0, len(m.joined[connID]))
	for t := range m.joined[connID] {
		out = append(out, t)
	}
	return out
}

func (m *Membership) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.conns)
}
