package handlers

import (
	"errors"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/san-kum/damage-watch/server/models"
	"github.com/san-kum/damage-watch/server/render"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// FrameSink accepts camera frames uploaded by the browser.
type FrameSink interface {
	Publish(frame image.Image) bool
}

type WebSocketHandler struct {
	session      SessionController
	frames       FrameSink
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	maxFrameSize int64
}

type ClientMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewWebSocketHandler serves status updates and, when frames is non-nil,
// accepts browser camera frames.
func NewWebSocketHandler(session SessionController, frames FrameSink, allowedOrigins []string, maxFrameSize int64, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		session:      session,
		frames:       frames,
		logger:       logger,
		maxFrameSize: maxFrameSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) write(messageType string, data any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(ServerMessage{Type: messageType, Data: data})
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	clientIP := c.ClientIP()
	h.logger.Info("WebSocket client connected", zap.String("client_ip", clientIP))
	defer h.logger.Info("WebSocket client disconnected", zap.String("client_ip", clientIP))

	if h.maxFrameSize > 0 {
		conn.SetReadLimit(h.maxFrameSize)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ws := &wsConn{conn: conn}
	updates, unsubscribe := h.session.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)

	if err := ws.write("status", h.session.Status()); err != nil {
		h.logger.Error("Failed to send WebSocket message", zap.Error(err))
		return
	}

	go h.writeLoop(ws, updates, done)

	for {
		var message ClientMessage
		if err := conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read failed", zap.Error(err))
			}
			return
		}
		h.handleMessage(ws, &message)
	}
}

func (h *WebSocketHandler) writeLoop(ws *wsConn, updates <-chan models.SessionStatus, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			if err := ws.write("status", status); err != nil {
				h.logger.Debug("Failed to push status", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				h.logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleMessage(ws *wsConn, message *ClientMessage) {
	switch message.Type {
	case "frame":
		h.processVideoFrame(ws, message)
	case "ping":
		h.send(ws, "pong", map[string]any{"timestamp": time.Now().Unix()})
	default:
		h.logger.Warn("Unknown message type received", zap.String("type", message.Type))
		h.sendError(ws, "Unknown message type: "+message.Type)
	}
}

func (h *WebSocketHandler) processVideoFrame(ws *wsConn, message *ClientMessage) {
	if h.frames == nil {
		h.sendError(ws, "Frame upload is disabled for this camera source")
		return
	}

	frame, err := render.DecodeDataURL(message.Data)
	if errors.Is(err, render.ErrFrameTooLarge) {
		h.logger.Warn("Rejected oversized frame", zap.Error(err))
		h.sendError(ws, "Frame dimensions too large")
		return
	}
	if err != nil {
		h.logger.Debug("Failed to decode frame", zap.Error(err))
		h.sendError(ws, "Invalid image data format")
		return
	}

	if !h.frames.Publish(frame) {
		h.logger.Debug("Frame dropped, no active stream")
	}
}

func (h *WebSocketHandler) send(ws *wsConn, messageType string, data any) {
	if err := ws.write(messageType, data); err != nil {
		h.logger.Error("Failed to send WebSocket message", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(ws *wsConn, errorMsg string) {
	h.send(ws, "error", map[string]any{
		"message":   errorMsg,
		"timestamp": time.Now().Unix(),
	})
}
