package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// wsFrame is the envelope for both directions of the chat socket.
//
// Client to server: {"type": "auth", "token": ...} then
// {"type": "chat.send", "session_id": ..., "message": ...}.
// Server to client: delta, tool_use, tool_result, final, and error frames.
type wsFrame struct {
	Type       string             `json:"type"`
	Token      string             `json:"token,omitempty"`
	SessionID  string             `json:"session_id,omitempty"`
	Message    string             `json:"message,omitempty"`
	Model      string             `json:"model,omitempty"`
	Delta      string             `json:"delta,omitempty"`
	ToolUse    *models.ToolCall   `json:"tool_use,omitempty"`
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`
	Final      *agent.Result      `json:"final,omitempty"`
	Error      *wsError           `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsConn is one chat socket. Frames are handled sequentially; a chat.send
// received while a turn is streaming waits for the previous turn to finish.
type wsConn struct {
	server *Server
	conn   *websocket.Conn
	user   *models.User
}

// handleWS upgrades the connection and serves the chat socket. The first
// frame must be an auth frame carrying a bearer token.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if s.metrics != nil {
		s.metrics.ActiveSockets.Inc()
		defer s.metrics.ActiveSockets.Dec()
	}

	session := &wsConn{server: s, conn: conn}
	session.run(r.Context())
}

func (c *wsConn) run(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		var frame wsFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}

		if c.user == nil {
			if frame.Type != "auth" {
				c.sendError(codeUnauthorized, "first frame must be auth")
				return
			}
			user, err := c.server.auth.Authenticate(frame.Token)
			if err != nil {
				c.sendError(codeUnauthorized, "invalid or missing credentials")
				return
			}
			c.user = user
			c.send(wsFrame{Type: "auth.ok"})
			continue
		}

		switch frame.Type {
		case "chat.send":
			c.handleChatSend(ctx, frame)
		case "ping":
			c.send(wsFrame{Type: "pong"})
		default:
			c.sendError(codeBadRequest, "unknown frame type "+frame.Type)
		}
	}
}

func (c *wsConn) handleChatSend(ctx context.Context, frame wsFrame) {
	req := chatRequest{
		SessionID: frame.SessionID,
		Message:   frame.Message,
		Model:     frame.Model,
	}

	turn, apiErr := c.server.startChat(ctx, c.user, req)
	if apiErr != nil {
		c.sendError(apiErr.code, apiErr.message)
		return
	}

	c.send(wsFrame{Type: "chat.start", SessionID: turn.session.ID})

	final, toolCalls, toolResults, err := c.server.relay(turn, func(chunk *agent.ResponseChunk) error {
		switch {
		case chunk.Text != "":
			return c.send(wsFrame{Type: "delta", Delta: chunk.Text})
		case chunk.ToolUse != nil:
			return c.send(wsFrame{Type: "tool_use", ToolUse: chunk.ToolUse})
		case chunk.ToolResult != nil:
			return c.send(wsFrame{Type: "tool_result", ToolResult: chunk.ToolResult})
		case chunk.Final != nil:
			return c.send(wsFrame{Type: "final", SessionID: turn.session.ID, Final: chunk.Final})
		}
		return nil
	})
	if err != nil {
		c.sendError(codeUpstreamError, err.Error())
		return
	}
	c.server.finishChat(turn, final, toolCalls, toolResults)
}

func (c *wsConn) send(frame wsFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) sendError(code, message string) {
	_ = c.send(wsFrame{Type: "error", Error: &wsError{Code: code, Message: message}})
}
