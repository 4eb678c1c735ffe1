package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardmesh/boardmesh/pkg/models"
	"github.com/boardmesh/boardmesh/pkg/session"
)

func dialTestSocket(t *testing.T, srv *Server, whiteboardID string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/whiteboards/" + whiteboardID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg serverMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebsocketOperationRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialTestSocket(t, srv, "wb-1")

	op := apiOp("user-a", "elem-1", map[string]interface{}{"color": "red"})
	require.NoError(t, conn.WriteJSON(clientMessage{Kind: "operation", Operation: op}))

	msg := readFrame(t, conn)
	assert.Equal(t, "result", msg.Kind)
	assert.Equal(t, "wb-1", msg.WhiteboardID)

	raw, err := json.Marshal(msg.Result)
	require.NoError(t, err)
	var result session.SubmitResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, op.ID, result.Operation.ID)
	assert.NotZero(t, result.Operation.Lamport)
}

func TestWebsocketRejectedOperationKeepsStream(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialTestSocket(t, srv, "wb-1")

	bad := apiOp("", "elem-1", nil)
	require.NoError(t, conn.WriteJSON(clientMessage{Kind: "operation", Operation: bad}))
	msg := readFrame(t, conn)
	assert.Equal(t, "rejected", msg.Kind)
	assert.Contains(t, msg.Error, "user_id")

	good := apiOp("user-a", "elem-1", map[string]interface{}{"color": "red"})
	require.NoError(t, conn.WriteJSON(clientMessage{Kind: "operation", Operation: good}))
	msg = readFrame(t, conn)
	assert.Equal(t, "result", msg.Kind)
}

func TestWebsocketMalformedFrames(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialTestSocket(t, srv, "wb-1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg.Kind)

	require.NoError(t, conn.WriteJSON(clientMessage{Kind: "telepathy"}))
	msg = readFrame(t, conn)
	assert.Equal(t, "error", msg.Kind)
}

func TestWebsocketActivityFrames(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialTestSocket(t, srv, "wb-1")

	activity := &models.UserActivity{UserID: "user-a", CursorX: 10, CursorY: 20}
	require.NoError(t, conn.WriteJSON(clientMessage{Kind: "activity", Activity: activity}))

	// Activity frames have no reply; a following operation still works.
	op := apiOp("user-a", "elem-1", map[string]interface{}{"color": "red"})
	require.NoError(t, conn.WriteJSON(clientMessage{Kind: "operation", Operation: op}))
	msg := readFrame(t, conn)
	assert.Equal(t, "result", msg.Kind)
}
