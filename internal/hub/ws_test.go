package hub

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/pkg/protocol"
)

func dialWS(t *testing.T, h *testHub, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame protocol.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWSWelcomeAndChatBroadcast(t *testing.T) {
	h := newTestHub(t)
	conn := dialWS(t, h, "/coordinator/ws?agentId=watcher")

	welcome := readFrame(t, conn)
	require.Equal(t, protocol.FrameWelcome, welcome.Type)
	var payload struct {
		AgentID      string   `json:"agentId"`
		ActiveAgents []string `json:"activeAgents"`
	}
	require.NoError(t, welcome.Decode(&payload))
	assert.Equal(t, "watcher", payload.AgentID)
	assert.Contains(t, payload.ActiveAgents, "watcher")

	// Subscribing marked the agent active.
	agent, err := h.coord.GetAgent("watcher")
	require.NoError(t, err)
	assert.Equal(t, "active", string(agent.Status))

	status := h.do(t, http.MethodPost, "/coordinator/chat", map[string]any{
		"author": "alice", "authorType": "agent", "message": "hello team",
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	chat := readFrame(t, conn)
	require.Equal(t, protocol.FrameChat, chat.Type)
	var msg struct {
		Author  string `json:"author"`
		Message string `json:"message"`
	}
	require.NoError(t, chat.Decode(&msg))
	assert.Equal(t, "alice", msg.Author)
	assert.Equal(t, "hello team", msg.Message)
}

func TestWSPingPong(t *testing.T) {
	h := newTestHub(t)
	conn := dialWS(t, h, "/coordinator/ws?agentId=watcher")
	readFrame(t, conn) // welcome

	require.NoError(t, conn.WriteJSON(protocol.Frame{Type: protocol.FramePing}))
	pong := readFrame(t, conn)
	assert.Equal(t, protocol.FramePong, pong.Type)
}

func TestWSInboundChat(t *testing.T) {
	h := newTestHub(t)
	conn := dialWS(t, h, "/coordinator/ws?agentId=alice")
	readFrame(t, conn) // welcome

	require.NoError(t, conn.WriteJSON(protocol.NewFrame(protocol.FrameChat, map[string]string{
		"message": "shipped the hub",
	})))

	// The sender is a subscriber too; the append fans back to it.
	chat := readFrame(t, conn)
	require.Equal(t, protocol.FrameChat, chat.Type)
	var msg struct {
		Author string `json:"author"`
	}
	require.NoError(t, chat.Decode(&msg))
	assert.Equal(t, "alice", msg.Author)
}

func TestWSDuplicateSubscriptionReplaced(t *testing.T) {
	h := newTestHub(t)

	first := dialWS(t, h, "/coordinator/ws?agentId=watcher")
	readFrame(t, first) // welcome

	second := dialWS(t, h, "/coordinator/ws?agentId=watcher")
	readFrame(t, second) // welcome

	status := h.do(t, http.MethodPost, "/coordinator/chat", map[string]any{
		"author": "alice", "authorType": "agent", "message": "only the newer connection hears this",
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	chat := readFrame(t, second)
	assert.Equal(t, protocol.FrameChat, chat.Type)

	// The second connection's registration broadcast an agent-update
	// before the subscription was replaced, so the orphaned first
	// connection may still hold that one frame. After draining it, no
	// chat broadcast ever reaches the first connection.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	for {
		var frame protocol.Frame
		if err := first.ReadJSON(&frame); err != nil {
			break
		}
		assert.NotEqual(t, protocol.FrameChat, frame.Type)
	}
}

func TestWSCloseMarksOffline(t *testing.T) {
	h := newTestHub(t)
	conn := dialWS(t, h, "/coordinator/ws?agentId=watcher")
	readFrame(t, conn) // welcome
	conn.Close()

	require.Eventually(t, func() bool {
		agent, err := h.coord.GetAgent("watcher")
		return err == nil && string(agent.Status) == "offline"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWSMissingAgentID(t *testing.T) {
	h := newTestHub(t)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/coordinator/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAgentWSStateSync(t *testing.T) {
	h := newTestHub(t)

	status := h.do(t, http.MethodPost, "/agent/alice/checkpoint", map[string]any{
		"pendingWork": []string{"finish parser"},
	}, nil)
	require.Equal(t, http.StatusOK, status)

	conn := dialWS(t, h, "/agent/alice/ws")
	sync := readFrame(t, conn)
	require.Equal(t, protocol.FrameStateSync, sync.Type)
	var state struct {
		Checkpoint struct {
			PendingWork []string `json:"pendingWork"`
		} `json:"checkpoint"`
	}
	require.NoError(t, sync.Decode(&state))
	assert.Equal(t, []string{"finish parser"}, state.Checkpoint.PendingWork)
}
