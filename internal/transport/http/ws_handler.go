// Package http adapts the session engine to websocket clients. The engine
// itself is transport-agnostic; this handler only translates messages and
// never holds game state.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"mathquest/internal/app"
	"mathquest/internal/domain"
)

type WSHandler struct {
	manager  *app.Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(manager *app.Manager, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex int      `json:"questionIndex"`
	Selected      []int    `json:"selected,omitempty"`
	Value         *float64 `json:"value,omitempty"`
}

type leaderboardPayload struct {
	View string `json:"view"`
}

type joinedPayload struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Status        string `json:"status"`
}

type advancedPayload struct {
	QuestionIndex int  `json:"questionIndex"`
	Completed     bool `json:"completed"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the connection and bridges it onto the session engine.
// Players join as participants; the teacher connects with role=host to
// drive the question flow.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	accessCode := r.URL.Query().Get("code")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	role := r.URL.Query().Get("role")
	if accessCode == "" || userID == "" {
		http.Error(w, "missing code or userId", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	sessionID, err := h.manager.Resolve(ctx, accessCode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	host := role == "host"
	var participantID string
	if !host {
		participant, err := h.manager.JoinSession(ctx, accessCode, userID, displayName)
		if err != nil {
			_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
		participantID = participant.ID
		defer func() {
			_ = h.manager.LeaveSession(ctx, sessionID, participantID)
		}()
	}

	updates, cancel, err := h.manager.Subscribe(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", "err", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "leaderboard", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Status:        roleName(host),
	}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(ctx, sessionID, participantID, host, inbound, send)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func roleName(host bool) string {
	if host {
		return "host"
	}
	return "player"
}

func (h *WSHandler) dispatch(ctx context.Context, sessionID, participantID string, host bool, inbound inboundMessage, send chan<- outboundMessage[any]) {
	fail := func(msg string) {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
	}

	switch inbound.Type {
	case "answer":
		if participantID == "" {
			fail("hosts do not submit answers")
			return
		}
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail("invalid answer payload")
			return
		}
		var ans domain.Answer
		if payload.Value != nil {
			ans = domain.NumericAnswer{Value: *payload.Value}
		} else {
			ans = domain.ChoiceAnswer{Selected: payload.Selected}
		}
		result, err := h.manager.SubmitAnswer(ctx, sessionID, participantID, payload.QuestionIndex, ans, time.Now())
		if err != nil {
			fail(err.Error())
			return
		}
		send <- outboundMessage[any]{Type: "answerResult", Payload: result}
	case "start":
		if !host {
			fail("only the host starts the session")
			return
		}
		if err := h.manager.StartSession(ctx, sessionID); err != nil {
			fail(err.Error())
			return
		}
		send <- outboundMessage[any]{Type: "advanced", Payload: advancedPayload{QuestionIndex: 0}}
	case "advance":
		if !host {
			fail("only the host advances questions")
			return
		}
		next, err := h.manager.AdvanceQuestion(ctx, sessionID)
		if err != nil {
			fail(err.Error())
			return
		}
		send <- outboundMessage[any]{Type: "advanced", Payload: advancedPayload{
			QuestionIndex: next,
			Completed:     next == domain.NoQuestion,
		}}
	case "complete":
		if !host {
			fail("only the host completes the session")
			return
		}
		if err := h.manager.CompleteSession(ctx, sessionID); err != nil {
			fail(err.Error())
			return
		}
		send <- outboundMessage[any]{Type: "advanced", Payload: advancedPayload{
			QuestionIndex: domain.NoQuestion,
			Completed:     true,
		}}
	case "leaderboard":
		var payload leaderboardPayload
		_ = json.Unmarshal(inbound.Payload, &payload)
		view := domain.ViewLive
		if payload.View == string(domain.ViewDeferred) {
			view = domain.ViewDeferred
		}
		lb, err := h.manager.GetLeaderboard(ctx, sessionID, view)
		if err != nil {
			fail(err.Error())
			return
		}
		send <- outboundMessage[any]{Type: "leaderboard", Payload: lb}
	default:
		fail("unsupported message type")
	}
}
