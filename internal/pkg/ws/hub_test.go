package ws

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// newTestServer 每个连接注册为 userIDFn 返回的用户，直到客户端断开
func newTestServer(t *testing.T, hub *Hub, userIDFn func() string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := &Client{UserID: userIDFn(), Conn: conn}
		hub.Register(client)
		defer hub.Unregister(client)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)

	assert.NotNil(t, hub)
	assert.Equal(t, 0, hub.ConnectionCount())
	assert.False(t, hub.IsOnline("user_1"))
}

func TestHub_SendToUser_UserNotOnline(t *testing.T) {
	hub := NewHub(nil)

	err := hub.SendToUser("user_1", &Message{Type: "test", Data: map[string]string{"key": "value"}})
	assert.NoError(t, err)
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(nil)
	server := newTestServer(t, hub, func() string { return "user_100" })
	defer server.Close()

	conn := dial(t, server)

	require.Eventually(t, func() bool { return hub.IsOnline("user_100") }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.ConnectionCount())

	conn.Close()
	require.Eventually(t, func() bool { return !hub.IsOnline("user_100") }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.ConnectionCount())
}

func TestHub_SendToUser_WithConnection(t *testing.T) {
	hub := NewHub(nil)
	server := newTestServer(t, hub, func() string { return "user_200" })
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.IsOnline("user_200") }, time.Second, 10*time.Millisecond)

	err := hub.SendToUser("user_200", &Message{
		Type: "job_progress",
		Data: map[string]interface{}{"job_id": "job-1", "progress": 20},
	})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, received, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(received), "job_progress")
	assert.Contains(t, string(received), "job-1")
}

func TestHub_SameUserMultipleConnections(t *testing.T) {
	hub := NewHub(nil)
	server := newTestServer(t, hub, func() string { return "user_300" })
	defer server.Close()

	conn1 := dial(t, server)
	defer conn1.Close()
	conn2 := dial(t, server)
	defer conn2.Close()

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.True(t, hub.IsOnline("user_300"))

	require.NoError(t, hub.SendToUser("user_300", &Message{Type: "ping"}))
	for _, c := range []*websocket.Conn{conn1, conn2} {
		c.SetReadDeadline(time.Now().Add(time.Second))
		_, received, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(received), "ping")
	}
}

func TestHub_MultipleUsers(t *testing.T) {
	hub := NewHub(nil)
	var seq int64
	server := newTestServer(t, hub, func() string {
		return fmt.Sprintf("user_%d", atomic.AddInt64(&seq, 1))
	})
	defer server.Close()

	for i := 0; i < 3; i++ {
		conn := dial(t, server)
		defer conn.Close()
	}

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 3 }, time.Second, 10*time.Millisecond)
	assert.True(t, hub.IsOnline("user_1"))
	assert.True(t, hub.IsOnline("user_2"))
	assert.True(t, hub.IsOnline("user_3"))
	assert.False(t, hub.IsOnline("user_4"))
}
