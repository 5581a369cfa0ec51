//go:build !linux

package ws

import (
	"bufio"
	"io"
	"net"
	"sync"
)

// Epoll is the goroutine-per-connection fallback for platforms without
// epoll. Each registered connection gets a monitor goroutine that blocks
// until a frame starts arriving, hands the connection to Wait, and then
// stays parked until the server releases it. The monitor peeks through a
// buffered reader, so Reader must be used for the frame read.
type Epoll struct {
	mu      sync.Mutex
	conns   map[net.Conn]*watched
	readyCh chan net.Conn
	done    chan struct{}
}

type watched struct {
	br      *bufio.Reader
	release chan struct{}
	stop    chan struct{}
}

// NewEpoll creates a fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]*watched),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts monitoring conn.
func (e *Epoll) Add(conn net.Conn) error {
	w := &watched{
		br:      bufio.NewReader(conn),
		release: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}

	e.mu.Lock()
	e.conns[conn] = w
	e.mu.Unlock()

	go e.monitor(conn, w)
	return nil
}

func (e *Epoll) monitor(conn net.Conn, w *watched) {
	for {
		// A peek error still signals readiness so the server's read observes
		// the closure.
		_, err := w.br.Peek(1)

		select {
		case e.readyCh <- conn:
		case <-w.stop:
			return
		case <-e.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-w.release:
		case <-w.stop:
			return
		case <-e.done:
			return
		}
	}
}

// Reader returns the buffered reader that holds the peeked bytes.
func (e *Epoll) Reader(conn net.Conn) io.Reader {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.conns[conn]; ok {
		return w.br
	}
	return conn
}

// Release lets the monitor wait for the next frame.
func (e *Epoll) Release(conn net.Conn) {
	e.mu.Lock()
	w, ok := e.conns[conn]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.release <- struct{}{}:
	default:
	}
}

// Remove stops monitoring conn.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	w, ok := e.conns[conn]
	delete(e.conns, conn)
	e.mu.Unlock()
	if ok {
		close(w.stop)
	}
	return nil
}

// Wait blocks until at least one connection is ready and returns every
// connection ready at that point.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close stops every monitor.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = make(map[net.Conn]*watched)
	e.mu.Unlock()
	return nil
}

func socketFD(conn net.Conn) int {
	return -1
}
