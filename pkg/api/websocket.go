package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	bmerrors "github.com/boardmesh/boardmesh/pkg/errors"
	"github.com/boardmesh/boardmesh/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 128 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin enforcement belongs to the fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is one inbound frame from an editing client
type clientMessage struct {
	Kind      string               `json:"kind"` // "operation" or "activity"
	Operation *models.Operation    `json:"operation,omitempty"`
	Activity  *models.UserActivity `json:"activity,omitempty"`
}

// serverMessage is one outbound frame to an editing client
type serverMessage struct {
	Kind         string               `json:"kind"` // "result", "error", "notice"
	Result       interface{}          `json:"result,omitempty"`
	Error        string               `json:"error,omitempty"`
	Notice       *models.Notification `json:"notice,omitempty"`
	WhiteboardID string               `json:"whiteboard_id"`
}

// serveWebsocket upgrades a live editing session. Inbound frames carry
// operations and activity signals; outbound frames carry transform results
// and cross-instance conflict notices.
func (s *Server) serveWebsocket(c *gin.Context) {
	whiteboardID := c.Param("id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	outbound := make(chan serverMessage, 64)
	go s.writePump(ctx, conn, outbound)
	if s.cfg.Notifier != nil {
		go s.noticePump(ctx, whiteboardID, outbound)
	}

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.cfg.Logger.Debug("Websocket closed unexpectedly", map[string]interface{}{
					"whiteboard_id": whiteboardID,
					"error":         err.Error(),
				})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.send(ctx, outbound, serverMessage{Kind: "error", Error: "malformed frame", WhiteboardID: whiteboardID})
			continue
		}

		switch msg.Kind {
		case "operation":
			if msg.Operation == nil {
				s.send(ctx, outbound, serverMessage{Kind: "error", Error: "operation frame without operation", WhiteboardID: whiteboardID})
				continue
			}
			result, err := s.cfg.Sessions.Submit(ctx, whiteboardID, msg.Operation)
			if err != nil {
				// A rejected operation closes nothing; the stream continues.
				kind := "error"
				if bmerrors.IsValidation(err) {
					kind = "rejected"
				}
				s.send(ctx, outbound, serverMessage{Kind: kind, Error: err.Error(), WhiteboardID: whiteboardID})
				continue
			}
			s.send(ctx, outbound, serverMessage{Kind: "result", Result: result, WhiteboardID: whiteboardID})
		case "activity":
			if msg.Activity == nil {
				continue
			}
			activity := *msg.Activity
			activity.WhiteboardID = whiteboardID
			if activity.SeenAt.IsZero() {
				activity.SeenAt = time.Now()
			}
			s.cfg.Sessions.Observe(activity)
		default:
			s.send(ctx, outbound, serverMessage{Kind: "error", Error: "unknown frame kind", WhiteboardID: whiteboardID})
		}
	}
}

func (s *Server) send(ctx context.Context, outbound chan<- serverMessage, msg serverMessage) {
	select {
	case outbound <- msg:
	case <-ctx.Done():
	}
}

// writePump owns the connection's write side: outbound frames plus pings
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, outbound <-chan serverMessage) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// noticePump forwards cross-instance conflict notices onto this connection
func (s *Server) noticePump(ctx context.Context, whiteboardID string, outbound chan<- serverMessage) {
	sub, err := s.cfg.Notifier.Subscribe(ctx, whiteboardID)
	if err != nil {
		s.cfg.Logger.Warn("Notice subscription failed", map[string]interface{}{
			"whiteboard_id": whiteboardID,
			"error":         err.Error(),
		})
		return
	}
	defer func() { _ = sub.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-sub.C:
			if !ok {
				return
			}
			notice := delivery.Notice
			s.send(ctx, outbound, serverMessage{Kind: "notice", Notice: &notice, WhiteboardID: whiteboardID})
		}
	}
}
