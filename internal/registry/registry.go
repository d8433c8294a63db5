// Package registry tracks live connections, the auction room each one has
// joined and the personal channel of each authenticated user, and fans
// messages out to them. It knows nothing about the transport: anything that
// implements Conn can be registered.
package registry

import (
	"errors"
	"sync"

	model "live-auction/internal/models"
	"live-auction/utils"
)

var ErrNotRegistered = errors.New("connection not registered")

// Message is one outbound event
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Conn is a transport connection able to queue a message for delivery.
// Send must not block on network I/O.
type Conn interface {
	ID() string
	Send(msg Message) error
}

// Scope selects who receives an Envelope
type Scope int

const (
	// ScopeSender targets the connection that issued the command
	ScopeSender Scope = iota
	// ScopeRoom targets every member of AuctionID's room except the sender
	ScopeRoom
	// ScopeUser targets every connection of UserID
	ScopeUser
)

// Envelope is a message plus its delivery scope
type Envelope struct {
	Scope     Scope
	AuctionID string
	UserID    string
	Message   Message
}

type member struct {
	conn      Conn
	identity  model.Identity
	auctionID string
}

// Registry is safe for concurrent use. Membership is read far more often
// (every broadcast) than it is written (join/leave), hence the RWMutex.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*member         // key: connID
	rooms map[string]map[string]Conn // key: auctionID -> connID -> conn
	users map[string]map[string]Conn // key: userID -> connID -> conn
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		conns: make(map[string]*member),
		rooms: make(map[string]map[string]Conn),
		users: make(map[string]map[string]Conn),
	}
}

// Register adds a connection and places it in its user's personal channel
func (r *Registry) Register(conn Conn, identity model.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID()] = &member{conn: conn, identity: identity}
	if identity.UserID != "" {
		addTo(r.users, identity.UserID, conn)
	}
}

// Unregister removes a connection from its room and personal channel
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[connID]
	if !ok {
		return
	}
	if m.auctionID != "" {
		removeFrom(r.rooms, m.auctionID, connID)
	}
	if m.identity.UserID != "" {
		removeFrom(r.users, m.identity.UserID, connID)
	}
	delete(r.conns, connID)
}

// Join moves a connection into auctionID's room. A connection is a member of
// at most one room, so any previous membership is dropped first.
func (r *Registry) Join(connID, auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[connID]
	if !ok {
		return ErrNotRegistered
	}
	if m.auctionID == auctionID {
		return nil
	}
	if m.auctionID != "" {
		removeFrom(r.rooms, m.auctionID, connID)
	}
	m.auctionID = auctionID
	addTo(r.rooms, auctionID, m.conn)
	return nil
}

// Leave removes a connection from auctionID's room. It reports false when
// the connection was not in that room.
func (r *Registry) Leave(connID, auctionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[connID]
	if !ok || m.auctionID != auctionID || auctionID == "" {
		return false
	}
	removeFrom(r.rooms, auctionID, connID)
	m.auctionID = ""
	return true
}

// CurrentAuction returns the room a connection has joined, if any
func (r *Registry) CurrentAuction(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.conns[connID]; ok {
		return m.auctionID
	}
	return ""
}

// Broadcast sends msg to every member of auctionID's room except
// excludeConnID and returns the number of successful deliveries.
func (r *Registry) Broadcast(auctionID string, msg Message, excludeConnID string) int {
	r.mu.RLock()
	targets := snapshot(r.rooms[auctionID], excludeConnID)
	r.mu.RUnlock()

	return deliver(targets, msg, map[string]any{"auction_id": auctionID})
}

// SendToUser sends msg to every connection of userID regardless of room membership
func (r *Registry) SendToUser(userID string, msg Message) int {
	r.mu.RLock()
	targets := snapshot(r.users[userID], "")
	r.mu.RUnlock()

	return deliver(targets, msg, map[string]any{"user_id": userID})
}

// SendToConn sends msg to one connection
func (r *Registry) SendToConn(connID string, msg Message) error {
	r.mu.RLock()
	m, ok := r.conns[connID]
	r.mu.RUnlock()

	if !ok {
		return ErrNotRegistered
	}
	return m.conn.Send(msg)
}

// Dispatch delivers envelopes in order. Sender-scoped envelopes are skipped
// when senderConnID is empty (e.g. HTTP callers receive them in the response).
func (r *Registry) Dispatch(senderConnID string, envs []Envelope) {
	for _, env := range envs {
		switch env.Scope {
		case ScopeSender:
			if senderConnID == "" {
				continue
			}
			if err := r.SendToConn(senderConnID, env.Message); err != nil {
				utils.Warn("registry: failed to deliver to sender", map[string]any{
					"component": "registry",
					"conn_id":   senderConnID,
					"event":     env.Message.Event,
					"error":     err.Error(),
				})
			}
		case ScopeRoom:
			r.Broadcast(env.AuctionID, env.Message, senderConnID)
		case ScopeUser:
			r.SendToUser(env.UserID, env.Message)
		}
	}
}

// DispatchInOrder waits for every earlier ticket of the same auction, then
// dispatches envs and releases t.
func (r *Registry) DispatchInOrder(t *Ticket, senderConnID string, envs []Envelope) {
	defer t.Done()
	t.Wait()
	r.Dispatch(senderConnID, envs)
}

// RoomSize returns the number of members in auctionID's room
func (r *Registry) RoomSize(auctionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[auctionID])
}

// ConnectionCount returns the number of registered connections
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func addTo(index map[string]map[string]Conn, key string, conn Conn) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]Conn)
		index[key] = set
	}
	set[conn.ID()] = conn
}

func removeFrom(index map[string]map[string]Conn, key, connID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(index, key)
	}
}

func snapshot(set map[string]Conn, excludeConnID string) []Conn {
	out := make([]Conn, 0, len(set))
	for id, c := range set {
		if id != excludeConnID {
			out = append(out, c)
		}
	}
	return out
}

// deliver sends outside the registry lock; failures are logged and swallowed
func deliver(targets []Conn, msg Message, fields map[string]any) int {
	delivered := 0
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			f := map[string]any{"component": "registry", "conn_id": c.ID(), "event": msg.Event, "error": err.Error()}
			for k, v := range fields {
				f[k] = v
			}
			utils.Warn("registry: delivery failed", f)
			continue
		}
		delivered++
	}
	return delivered
}
