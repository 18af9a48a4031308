package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KU-AILAB/CCTV-Timeline/internal/review"
	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(NewHandler(hub, nil, testLogger()))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHub_BroadcastsUploadProgress(t *testing.T) {
	// Arrange
	hub, server := startHub(t)
	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// Act
	hub.Notify(upload.Event{
		Type:         upload.EventSyncProgress,
		SessionID:    "42",
		Filename:     "cam1.mp4",
		UploadedSize: 5 << 20,
		TotalSize:    10 << 20,
		Progress:     50,
	})

	// Assert
	m := readMessage(t, conn)
	assert.Equal(t, "sync_progress", m.Type)
	assert.Equal(t, "42", m.SessionID)
	assert.Equal(t, "cam1.mp4", m.VideoID)
	assert.Equal(t, 50, m.Progress)
	assert.Equal(t, int64(10<<20), m.TotalSize)
}

func TestHub_ReplaysLatestStateToNewClients(t *testing.T) {
	hub, server := startHub(t)

	hub.NotifyReview(review.Snapshot{VideoID: "cam1.mp4", State: review.StateDetecting})
	hub.NotifyReview(review.Snapshot{
		VideoID:   "cam1.mp4",
		State:     review.StateReviewing,
		Intervals: []segments.Interval{{Start: 1, End: 4}},
	})

	conn := dial(t, server)

	m := readMessage(t, conn)
	assert.Equal(t, TypeReviewState, m.Type)
	assert.Equal(t, "reviewing", m.State)
	assert.Equal(t, []segments.Interval{{Start: 1, End: 4}}, m.Intervals)
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_SendMessageDropsWhenFull(t *testing.T) {
	c := NewClient(nil)
	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.SendMessage([]byte("x")))
	}

	assert.False(t, c.SendMessage([]byte("overflow")))
}

func TestFromReview_Finalized(t *testing.T) {
	m := FromReview(review.Snapshot{VideoID: "cam1.mp4", State: review.StateFinalized})

	assert.Equal(t, 100, m.Progress)
	assert.Equal(t, "finalized", m.State)
}
