package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/metrics"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

const (
	// Time allowed to write a message to the agent
	agentWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the agent
	agentPongWait = 30 * time.Second

	// Send pings to agent with this period (must be less than pongWait)
	agentPingPeriod = 20 * time.Second

	// Maximum message size allowed from agent
	agentMaxMessageSize = 8192
)

// AgentClient is one agent desktop connection. It joins the hub once the
// agent has identified itself with a register message.
type AgentClient struct {
	agentID string
	hub     *AgentHub
	conn    *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	logger zerolog.Logger

	// done is closed when the read pump exits
	done chan struct{}

	closeOnce sync.Once
}

// NewAgentClient creates a new AgentClient
func NewAgentClient(hub *AgentHub, conn *websocket.Conn, logger zerolog.Logger) *AgentClient {
	return &AgentClient{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *AgentClient) readPump() {
	defer func() {
		close(c.done)
		if c.agentID != "" {
			c.forward(c.hub.unregister, c)
		} else {
			c.Close()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(agentMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(agentPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(agentPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Str("agent_id", c.agentID).Msg("agent websocket read error")
				metrics.Get().RecordWebSocketError()
			}
			break
		}
		metrics.Get().RecordWebSocketMessage()
		// any traffic proves the agent is alive
		c.conn.SetReadDeadline(time.Now().Add(agentPongWait))

		c.handleMessage(message)
	}
}

// forward hands v to the hub unless the hub has stopped
func forward[T any](stopped <-chan struct{}, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-stopped:
		return false
	}
}

func (c *AgentClient) forward(ch chan<- *AgentClient, v *AgentClient) {
	if !forward(c.hub.stopped, ch, v) {
		c.Close()
	}
}

// handleMessage decodes one agent message and routes it to the hub
func (c *AgentClient) handleMessage(message []byte) {
	var msgType struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msgType); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse message type")
		metrics.Get().RecordWebSocketError()
		return
	}

	// everything but register needs an identified agent
	if msgType.Type != types.MsgRegister && c.agentID == "" {
		c.logger.Debug().Str("type", msgType.Type).Msg("message before register, ignored")
		return
	}

	stopped := c.hub.stopped
	switch msgType.Type {
	case types.MsgRegister:
		var reg types.AgentRegister
		if err := json.Unmarshal(message, &reg); err != nil || reg.AgentID == "" {
			c.logger.Debug().Err(err).Msg("invalid register message")
			return
		}
		if c.agentID != "" && c.agentID != reg.AgentID {
			c.logger.Warn().Str("new_agent_id", reg.AgentID).Msg("agent id change on open connection rejected")
			return
		}
		first := c.agentID == ""
		c.agentID = reg.AgentID
		c.logger = c.logger.With().Str("agent_id", c.agentID).Logger()
		if first {
			c.forward(c.hub.register, c)
		}
		forward(stopped, c.hub.agentRegister, &reg)

		ack := types.ServerAck{Type: types.MsgAck, AgentID: c.agentID}
		if data, err := json.Marshal(ack); err == nil {
			c.safeSend(data)
		}

	case types.MsgHeartbeat:
		var hb types.AgentHeartbeat
		if err := json.Unmarshal(message, &hb); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse heartbeat message")
			return
		}
		hb.AgentID = c.agentID
		forward(stopped, c.hub.heartbeat, &hb)

	case types.MsgStateChange:
		var sc types.AgentStateChange
		if err := json.Unmarshal(message, &sc); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse state_change message")
			return
		}
		sc.AgentID = c.agentID
		forward(stopped, c.hub.stateChange, &sc)

	case types.MsgInteractionComplete:
		var ic types.InteractionComplete
		if err := json.Unmarshal(message, &ic); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse interaction_complete message")
			return
		}
		ic.AgentID = c.agentID
		forward(stopped, c.hub.interactionComplete, &ic)

	case types.MsgWrapUp:
		var wu types.AgentWrapUp
		if err := json.Unmarshal(message, &wu); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse wrap_up message")
			return
		}
		wu.AgentID = c.agentID
		forward(stopped, c.hub.wrapUp, &wu)

	case types.MsgPreviewConfirm, types.MsgPreviewSkip:
		var pd types.PreviewDecision
		if err := json.Unmarshal(message, &pd); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse preview decision")
			return
		}
		pd.AgentID = c.agentID
		forward(stopped, c.hub.preview, &pd)

	default:
		c.logger.Debug().Str("type", msgType.Type).Msg("unknown message type")
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *AgentClient) writePump() {
	ticker := time.NewTicker(agentPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(agentWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(agentWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *AgentClient) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the client's send channel (idempotent)
func (c *AgentClient) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// safeSend queues data without blocking, recovering if the channel was closed
func (c *AgentClient) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}
