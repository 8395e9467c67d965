package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnection_Subscriptions(t *testing.T) {
	conn := NewConnection("conn-1", "trader-1", nil)

	// No subscriptions means receive everything
	assert.True(t, conn.ShouldReceive("ESZ5"))
	assert.True(t, conn.ShouldReceive("NQZ5"))

	conn.Subscribe("ESZ5")
	assert.True(t, conn.ShouldReceive("ESZ5"))
	assert.False(t, conn.ShouldReceive("NQZ5"))

	conn.Subscribe("NQZ5")
	assert.True(t, conn.ShouldReceive("NQZ5"))

	conn.Unsubscribe("ESZ5")
	assert.False(t, conn.ShouldReceive("ESZ5"))
	assert.True(t, conn.ShouldReceive("NQZ5"))
}

func TestConnection_SendMessage(t *testing.T) {
	conn := NewConnection("conn-1", "trader-1", nil)

	assert.NoError(t, conn.SendMessage([]byte(`{"symbol":"ESZ5"}`)))

	select {
	case msg := <-conn.Send:
		assert.JSONEq(t, `{"symbol":"ESZ5"}`, string(msg))
	default:
		t.Fatal("expected queued message")
	}
}

func TestConnection_SendErrorDropsWhenFull(t *testing.T) {
	conn := NewConnection("conn-1", "trader-1", nil)

	// Fill the channel
	for i := 0; i < cap(conn.Send); i++ {
		conn.Send <- []byte("x")
	}

	// Error messages are dropped rather than blocking
	assert.NoError(t, conn.SendError("test", "channel full"))
}

func TestConnection_CloseDuringConcurrentSend(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	conn := NewConnection("conn-1", "trader-1", ws)

	// Broadcasts racing the close must never panic
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			conn.SendMessage([]byte(`{"symbol":"ESZ5"}`))
		}
	}()

	conn.Close()
	<-done

	assert.ErrorIs(t, conn.SendMessage([]byte("x")), context.Canceled)
}
