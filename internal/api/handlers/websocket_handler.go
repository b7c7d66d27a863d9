package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/pkg/logger"
)

type WebSocketHandler struct {
	engine Answerer
}

func NewWebSocketHandler(engine Answerer) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
	}
}

type clientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// frame is one server message. Chunk frames carry Content; the final
// complete frame carries the answer metadata.
type frame struct {
	Type         string            `json:"type"`
	Content      string            `json:"content,omitempty"`
	Error        string            `json:"error,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	Intent       models.Intent     `json:"intent,omitempty"`
	Route        models.Intent     `json:"route,omitempty"`
	Citations    []models.Citation `json:"citations,omitempty"`
	Degraded     *models.Degraded  `json:"degraded,omitempty"`
	Insufficient bool              `json:"insufficient,omitempty"`
	LatencyMS    int64             `json:"latency_ms,omitempty"`
}

type frameWriter interface {
	WriteJSON(v interface{}) error
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg clientMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "query" {
			continue
		}

		if err := h.stream(context.Background(), c, msg.Content); err != nil {
			logger.Error("Failed to stream answer", zap.Error(err))
			break
		}
	}
}

// stream answers one query and writes a status frame, the answer text word by
// word, then a complete frame. Only write failures are returned.
func (h *WebSocketHandler) stream(ctx context.Context, w frameWriter, query string) error {
	if err := w.WriteJSON(frame{Type: "status", Content: "Processing query..."}); err != nil {
		return err
	}

	result, err := h.engine.Answer(ctx, query)
	if err != nil && (result == nil || !errors.Is(err, models.ErrAllPathsFailed)) {
		msg := "Failed to answer query"
		if models.IsValidation(err) {
			msg = err.Error()
		} else {
			logger.Error("Failed to answer query", zap.Error(err))
		}
		return w.WriteJSON(frame{Type: "error", Error: msg})
	}

	words := splitIntoWords(result.Text)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := w.WriteJSON(frame{Type: "chunk", Content: chunk}); err != nil {
			return err
		}
	}

	return w.WriteJSON(completeFrame(result, err))
}

func completeFrame(result *models.AnswerResult, err error) frame {
	degraded := result.Degraded
	f := frame{
		Type:         "complete",
		RequestID:    result.RequestID,
		Intent:       result.Intent,
		Route:        result.Route,
		Citations:    result.Citations,
		Degraded:     &degraded,
		Insufficient: result.Insufficient,
		LatencyMS:    result.LatencyMS,
	}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}

func splitIntoWords(text string) []string {
	var words []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			words = append(words, "\n")
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}
