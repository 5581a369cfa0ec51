// Package gateway implements the real-time messaging core: the connection
// registry, group subscription table, auth handshake, message router and
// fan-out engine. It is transport agnostic; the ws package adapts WebSocket
// connections to Peer.
package gateway

// Peer is one live transport connection.
//
// Send must be safe for concurrent use and must return nil once the peer has
// been closed. Close must be idempotent.
type Peer interface {
	ID() string
	Send(data []byte) error
	Close() error
}
