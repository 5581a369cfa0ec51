//go:build !linux

package ws

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFallbackPollerKeepsPeekedBytes(t *testing.T) {
	req := require.New(t)

	e, err := NewEpoll()
	req.NoError(err)
	defer e.Close()

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	req.NoError(e.Add(server))

	go func() { _, _ = client.Write([]byte("hello")) }()

	ready, err := e.Wait()
	req.NoError(err)
	req.Equal([]net.Conn{server}, ready)

	buf := make([]byte, 5)
	_, err = io.ReadFull(e.Reader(server), buf)
	req.NoError(err)
	req.Equal("hello", string(buf))

	e.Release(server)
	go func() { _, _ = client.Write([]byte("again")) }()

	ready, err = e.Wait()
	req.NoError(err)
	req.Len(ready, 1)
	_, err = io.ReadFull(e.Reader(server), buf)
	req.NoError(err)
	req.Equal("again", string(buf))

	req.NoError(e.Remove(server))
}
