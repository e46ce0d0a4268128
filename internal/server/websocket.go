package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/franckalain/foodguard/internal/models"
)

// wsMessage is the envelope for every websocket frame.
type wsMessage struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type scanRequest struct {
	Barcode string `json:"barcode"`
}

type analyzeRequest struct {
	Record models.ProductRecord `json:"record"`
}

type chatRequest struct {
	ScanID   string `json:"scan_id"`
	Question string `json:"question"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

type historyRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	s.clients.Store(clientID, conn)
	defer s.clients.Delete(clientID)

	log := s.logger.With(zap.String("client", clientID))
	log.Debug("websocket connected")

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("error reading message", zap.Error(err))
			}
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.sendError(conn, "Invalid message format")
			continue
		}
		// one message at a time keeps this goroutine the only writer
		s.handleWebSocketMessage(r.Context(), conn, msg)
	}
}

func (s *Server) handleWebSocketMessage(ctx context.Context, conn *websocket.Conn, msg wsMessage) {
	switch msg.Type {
	case "scan":
		var req scanRequest
		if !s.decodeData(conn, msg.Data, &req) {
			return
		}
		scan, err := s.svc.Scan(ctx, req.Barcode)
		s.reply(conn, "scan_result", scan, err)
	case "analyze":
		var req analyzeRequest
		if !s.decodeData(conn, msg.Data, &req) {
			return
		}
		scan, err := s.svc.Analyze(ctx, req.Record)
		s.reply(conn, "scan_result", scan, err)
	case "chat":
		var req chatRequest
		if !s.decodeData(conn, msg.Data, &req) {
			return
		}
		session, err := s.svc.Ask(ctx, req.ScanID, req.Question)
		s.reply(conn, "chat_reply", session, err)
	case "get_history":
		var req historyRequest
		if len(msg.Data) > 0 && !s.decodeData(conn, msg.Data, &req) {
			return
		}
		scans, err := s.svc.History(ctx, req.Limit)
		s.reply(conn, "history", map[string]any{"items": scans}, err)
	case "delete_history":
		var req deleteRequest
		if !s.decodeData(conn, msg.Data, &req) {
			return
		}
		n, err := s.svc.DeleteHistory(ctx, req.IDs)
		s.reply(conn, "history_deleted", map[string]any{"deleted": n}, err)
	case "get_preferences":
		prefs, err := s.svc.Preferences(ctx)
		s.reply(conn, "preferences", prefs, err)
	case "set_preferences":
		var req models.PreferenceProfile
		if !s.decodeData(conn, msg.Data, &req) {
			return
		}
		prefs, err := s.svc.UpdatePreferences(ctx, req)
		s.reply(conn, "preferences", prefs, err)
	default:
		s.sendError(conn, "Unknown message type")
	}
}

func (s *Server) decodeData(conn *websocket.Conn, data json.RawMessage, into any) bool {
	if len(data) == 0 {
		s.sendError(conn, "Missing message data")
		return false
	}
	if err := json.Unmarshal(data, into); err != nil {
		s.sendError(conn, "Invalid message data")
		return false
	}
	return true
}

func (s *Server) reply(conn *websocket.Conn, messageType string, data any, err error) {
	if err != nil {
		status, message := errorStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("websocket request failed", zap.String("type", messageType), zap.Error(err))
		}
		s.sendError(conn, message)
		return
	}
	s.sendMessage(conn, messageType, data)
}

func (s *Server) sendMessage(conn *websocket.Conn, messageType string, data any) {
	msg := map[string]any{
		"type": messageType,
		"data": data,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Warn("error sending message", zap.String("type", messageType), zap.Error(err))
	}
}

func (s *Server) sendError(conn *websocket.Conn, message string) {
	msg := map[string]any{
		"type":    "error",
		"message": message,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Warn("error sending error message", zap.Error(err))
	}
}
