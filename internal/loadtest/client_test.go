package loadtest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"

	"github.com/launchpad/chat-gateway/internal/protocol"
)

// fakeGateway accepts one auth frame per connection: token "good" succeeds as
// user "u1", anything else is rejected. Every later frame is echoed back as a
// typing_indicator.
func fakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			data, err := wsutil.ReadClientText(conn)
			if err != nil {
				return
			}
			msgType, msg, err := protocol.ParseClientMessage(data)
			if err != nil {
				return
			}

			var out []byte
			switch m := msg.(type) {
			case protocol.AuthMsg:
				if m.Token == "good" {
					out, _ = protocol.NewServerMessage(protocol.TypeAuthSuccess, protocol.AuthSuccessMsg{UserID: "u1"})
				} else {
					out, _ = protocol.NewServerMessage(protocol.TypeAuthError, protocol.AuthErrorMsg{Message: "invalid or expired token"})
				}
			default:
				out, _ = protocol.NewServerMessage(protocol.TypeTypingIndicator, protocol.TypingIndicatorMsg{UserID: msgType})
			}
			if err := wsutil.WriteServerText(conn, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientAuthAndHandlers(t *testing.T) {
	req := require.New(t)
	srv := fakeGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(srv))
	req.NoError(err)
	defer c.Close()

	got := make(chan string, 1)
	c.On(protocol.TypeTypingIndicator, func(raw json.RawMessage) {
		var msg protocol.TypingIndicatorMsg
		_ = json.Unmarshal(raw, &msg)
		got <- msg.UserID
	})

	req.NoError(c.Auth(ctx, "good"))
	req.Equal("u1", c.UserID())

	req.NoError(c.Send(protocol.TypingMsg{Type: protocol.TypeTyping, RecipientID: "u2", IsTyping: true}))
	select {
	case v := <-got:
		req.Equal(protocol.TypeTyping, v)
	case <-ctx.Done():
		t.Fatal("no typing_indicator received")
	}

	m := c.Metrics()
	req.Equal(2, m.MessagesSent)
	req.Equal(2, m.MessagesReceived)
	req.True(c.Alive())
}

func TestClientAuthRejected(t *testing.T) {
	srv := fakeGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	defer c.Close()

	err = c.Auth(ctx, "bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid or expired token")
}

func TestClientCloseIsIdempotent(t *testing.T) {
	srv := fakeGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.False(t, c.Alive())
}
