package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/straye-as/quotation-api/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_SendToUser(t *testing.T) {
	hub := realtime.NewHub(nil, zap.NewNop())
	userID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, userID)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ConnectionCount(userID) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.SendToUser(context.Background(), userID, map[string]string{"title": "Quotation viewed"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string            `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "notification", msg.Type)
	assert.Equal(t, "Quotation viewed", msg.Payload["title"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ConnectionCount(userID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_SendToOfflineUserIsNoop(t *testing.T) {
	hub := realtime.NewHub(nil, zap.NewNop())
	assert.NoError(t, hub.SendToUser(context.Background(), uuid.New(), "hello"))
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	hub := realtime.NewHub([]string{"https://app.straye.io"}, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, uuid.New())
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
