package services

import (
	"sync"
)

// Conn is the send side of a live client connection as the registry and
// relay see it. *Client implements it; tests substitute fakes.
type Conn interface {
	Send(payload []byte) error
	Close(code int, reason string)
}

// Registry is the authoritative in-process mapping between authenticated
// user ids and their live connection, indexed both ways. One instance is
// constructed per server process and injected into the socket server and
// relay. At most one connection per user: registering a user again
// supersedes the previous entry.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]Conn
	byConn map[Conn]int64
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int64]Conn),
		byConn: make(map[Conn]int64),
	}
}

// Register records conn as the live connection for userID and returns the
// superseded connection, if any. Closing the old connection is the
// caller's responsibility.
func (r *Registry) Register(userID int64, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.byUser[userID]
	if previous != nil {
		delete(r.byConn, previous)
	}
	r.byUser[userID] = conn
	r.byConn[conn] = userID
	return previous
}

// Unregister removes conn from the registry. Idempotent, and a no-op when
// the user's entry already points at a newer connection.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return
	}
	delete(r.byConn, conn)
	if current, ok := r.byUser[userID]; ok && current == conn {
		delete(r.byUser, userID)
	}
}

// Lookup returns the live connection for userID, if present.
func (r *Registry) Lookup(userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

// IsOnline reports whether userID has a live connection.
func (r *Registry) IsOnline(userID int64) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
