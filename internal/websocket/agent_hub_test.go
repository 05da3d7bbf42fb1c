package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennisdiepolder/monti/contactcore/internal/cache"
	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/ingestion"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

var _ ingestion.EventSource = (*AgentHub)(nil)

type hubFixture struct {
	hub  *AgentHub
	pool *cache.AgentPool
	url  string
}

func startHub(t *testing.T) *hubFixture {
	t.Helper()
	pool := cache.NewAgentPool(clock.NewFake(time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)), time.Minute)
	processor := ingestion.NewDefaultProcessor(pool, cache.NewEventCache(), zerolog.Nop())
	hub := NewAgentHub(pool, processor, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(NewAgentHandler(hub, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &hubFixture{hub: hub, pool: pool, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func register(t *testing.T, conn *websocket.Conn, agentID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(types.AgentRegister{Type: types.MsgRegister, AgentID: agentID}))

	var ack types.ServerAck
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, types.MsgAck, ack.Type)
	assert.Equal(t, agentID, ack.AgentID)
}

func TestRegisterJoinsHubAndPool(t *testing.T) {
	f := startHub(t)
	conn := f.dial(t)
	register(t, conn, "agent-a")

	require.Eventually(t, func() bool { return f.hub.AgentCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		a, ok := f.pool.Get("agent-a")
		return ok && a.ConnectionStatus == types.StatusConnected
	}, time.Second, 5*time.Millisecond)
}

func TestMessagesBeforeRegisterAreIgnored(t *testing.T) {
	f := startHub(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(types.AgentStateChange{Type: types.MsgStateChange, AgentID: "agent-a", State: types.StateBreak}))
	register(t, conn, "agent-b")

	require.Eventually(t, func() bool { return f.hub.AgentCount() == 1 }, time.Second, 5*time.Millisecond)
	_, ok := f.pool.Get("agent-a")
	assert.False(t, ok)
}

func TestStateChangeUsesConnectionIdentity(t *testing.T) {
	f := startHub(t)
	conn := f.dial(t)
	register(t, conn, "agent-a")

	require.NoError(t, conn.WriteJSON(types.AgentStateChange{Type: types.MsgStateChange, AgentID: "agent-z", State: types.StateBreak}))

	require.Eventually(t, func() bool {
		a, ok := f.pool.Get("agent-a")
		return ok && a.State == types.StateBreak
	}, time.Second, 5*time.Millisecond)
	_, ok := f.pool.Get("agent-z")
	assert.False(t, ok)
}

func TestSendToAgent(t *testing.T) {
	f := startHub(t)
	conn := f.dial(t)
	register(t, conn, "agent-a")
	require.Eventually(t, func() bool { return f.hub.AgentCount() == 1 }, time.Second, 5*time.Millisecond)

	assign := types.InteractionAssign{Type: types.MsgInteractionAssign, AgentID: "agent-a", InteractionID: "i-1", Queue: "billing"}
	data, err := json.Marshal(assign)
	require.NoError(t, err)
	require.True(t, f.hub.SendToAgent("agent-a", data))
	assert.False(t, f.hub.SendToAgent("nobody", data))

	var got types.InteractionAssign
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "i-1", got.InteractionID)
}

func TestDisconnectMarksAgentDisconnected(t *testing.T) {
	f := startHub(t)
	conn := f.dial(t)
	register(t, conn, "agent-a")
	require.Eventually(t, func() bool { return f.hub.AgentCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return f.hub.AgentCount() == 0 }, time.Second, 5*time.Millisecond)
	a, ok := f.pool.Get("agent-a")
	require.True(t, ok)
	assert.Equal(t, types.StatusDisconnected, a.ConnectionStatus)
}

func TestForceDisconnect(t *testing.T) {
	f := startHub(t)
	conn := f.dial(t)
	register(t, conn, "agent-a")
	require.Eventually(t, func() bool { return f.hub.AgentCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, f.hub.ForceDisconnect("agent-a"))
	assert.False(t, f.hub.ForceDisconnect("agent-a"))
	assert.Equal(t, 0, f.hub.AgentCount())

	var msg types.ForceDisconnect
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, types.MsgForceDisconnect, msg.Type)
}

func TestReconnectReplacesConnection(t *testing.T) {
	f := startHub(t)
	first := f.dial(t)
	register(t, first, "agent-a")
	second := f.dial(t)
	register(t, second, "agent-a")

	require.Eventually(t, func() bool { return f.hub.AgentCount() == 1 }, time.Second, 5*time.Millisecond)

	// the replaced connection's close must not disconnect the new one
	first.Close()
	time.Sleep(50 * time.Millisecond)
	a, ok := f.pool.Get("agent-a")
	require.True(t, ok)
	assert.Equal(t, types.StatusConnected, a.ConnectionStatus)
	assert.Equal(t, 1, f.hub.AgentCount())
}
