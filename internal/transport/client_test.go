package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newServer runs a websocket server that greets every connection and then
// hands it to serve.
func newServer(t *testing.T, serve func(n int32, conn *websocket.Conn)) (string, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(models.Event{Event: models.EventWelcome, Data: []byte(`{"id":"abc123"}`)})
		serve(n, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &hits
}

func echo(_ int32, conn *websocket.Conn) {
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(kind, msg); err != nil {
			return
		}
	}
}

func nextUpdate(t *testing.T, c *Client) Update {
	t.Helper()
	select {
	case u, ok := <-c.Updates():
		require.True(t, ok, "updates closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
		return Update{}
	}
}

func runClient(c *Client) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()
	return errc
}

func TestSendBeforeConnect(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", Options{})
	assert.Equal(t, StatusConnecting, c.Status())
	assert.ErrorIs(t, c.Send(models.EventChat, models.ChatRequest{Text: "hi"}), ErrNotConnected)
}

func TestGivesUpAfterRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	c := NewClient(url, Options{ReconnectAttempts: 2, ReconnectDelay: 5 * time.Millisecond})
	err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrGaveUp)

	var statuses []Status
	for u := range c.Updates() {
		statuses = append(statuses, u.Status)
	}
	assert.Equal(t, []Status{StatusReconnecting, StatusDisconnected}, statuses)
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestConnectSendAndClose(t *testing.T) {
	url, hits := newServer(t, echo)

	c := NewClient(url, Options{ReconnectAttempts: 1, ReconnectDelay: 10 * time.Millisecond})
	errc := runClient(c)

	assert.Equal(t, StatusConnected, nextUpdate(t, c).Status)
	welcome := nextUpdate(t, c)
	require.Equal(t, models.EventWelcome, welcome.Event.Event)
	var w models.Welcome
	require.NoError(t, welcome.Event.Decode(&w))
	assert.Equal(t, "abc123", w.ID)

	require.NoError(t, c.Send(models.EventJoinRoom, "1234"))
	got := nextUpdate(t, c)
	assert.Equal(t, models.EventJoinRoom, got.Event.Event)
	var room string
	require.NoError(t, got.Event.Decode(&room))
	assert.Equal(t, "1234", room)

	c.Close()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.EqualValues(t, 1, hits.Load())
	assert.ErrorIs(t, c.Send(models.EventChat, models.ChatRequest{Text: "late"}), ErrNotConnected)
}

func TestReconnectsAfterDrop(t *testing.T) {
	url, hits := newServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			return
		}
		echo(n, conn)
	})

	c := NewClient(url, Options{ReconnectAttempts: 3, ReconnectDelay: 10 * time.Millisecond})
	errc := runClient(c)
	defer func() {
		c.Close()
		<-errc
	}()

	var statuses []Status
	for len(statuses) < 3 {
		if u := nextUpdate(t, c); u.Status != "" {
			statuses = append(statuses, u.Status)
		}
	}
	assert.Equal(t, []Status{StatusConnected, StatusReconnecting, StatusConnected}, statuses)
	assert.EqualValues(t, 2, hits.Load())
}

func TestContextCancelStopsRun(t *testing.T) {
	url, _ := newServer(t, echo)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(url, Options{})
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	assert.Equal(t, StatusConnected, nextUpdate(t, c).Status)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
