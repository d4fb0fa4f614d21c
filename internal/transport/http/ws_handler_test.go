package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mathquest/internal/app"
	"mathquest/internal/catalog"
	"mathquest/internal/domain"
	"mathquest/internal/infra/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.Manager, domain.GameInstance) {
	t.Helper()
	store := memory.NewStore()
	store.SeedTemplate("tpl-1", []domain.QuestionRef{{UID: "q1", Sequence: 0}})
	cat := catalog.NewCache(catalog.NewStaticLoader(sampleQuestions()), time.Minute)

	manager := app.NewManager(store, cat, nil, app.Config{
		DefaultSettings: domain.Settings{BasePoints: 10},
	})
	t.Cleanup(func() { _ = manager.Close(context.Background()) })

	instance, err := manager.CreateSession(context.Background(), "tpl-1", "teacher-1", domain.PlayModeQuiz, domain.Settings{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(manager, nil).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, manager, instance
}

func dialWS(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketAnswerFlow(t *testing.T) {
	server, _, instance := newTestServer(t)

	host := dialWS(t, server, "code="+instance.AccessCode+"&userId=teacher-1&role=host")
	readNext(host, t, "joined")

	player := dialWS(t, server, "code="+instance.AccessCode+"&userId=u1&name=Alice")
	_, joined := readNext(player, t, "joined")
	if joined["participantId"] == "" {
		t.Fatalf("expected a participant id in the joined payload")
	}

	if err := host.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readNext(host, t, "advanced")

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionIndex": 0,
			"selected":      []int{1},
		},
	}
	if err := player.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	// Leaderboard pushes interleave freely with the direct reply.
	answerSeen := false
	leaderboardSeen := false
	for i := 0; i < 6 && !(answerSeen && leaderboardSeen); i++ {
		typ, payload := readNext(player, t, "")
		switch typ {
		case "answerResult":
			answerSeen = true
			if correct, _ := payload["correct"].(bool); !correct {
				t.Fatalf("expected a correct answer, got %+v", payload)
			}
			if pts, _ := payload["pointsAwarded"].(float64); pts != 10 {
				t.Fatalf("expected 10 points, got %+v", payload)
			}
		case "leaderboard":
			leaderboardSeen = true
		case "error":
			t.Fatalf("unexpected error message: %+v", payload)
		}
	}
	if !answerSeen || !leaderboardSeen {
		t.Fatalf("expected answerResult and leaderboard, got answerResult=%v leaderboard=%v", answerSeen, leaderboardSeen)
	}
}

func TestWebSocketHostCannotAnswer(t *testing.T) {
	server, _, instance := newTestServer(t)

	host := dialWS(t, server, "code="+instance.AccessCode+"&userId=teacher-1&role=host")
	readNext(host, t, "joined")

	if err := host.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readNext(host, t, "advanced")

	answer := map[string]any{
		"type":    "answer",
		"payload": map[string]any{"questionIndex": 0, "selected": []int{1}},
	}
	if err := host.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	for i := 0; i < 4; i++ {
		typ, _ := readNext(host, t, "")
		if typ == "error" {
			return
		}
	}
	t.Fatalf("expected an error reply for a host answer")
}

func TestWebSocketPlayerCannotAdvance(t *testing.T) {
	server, _, instance := newTestServer(t)

	player := dialWS(t, server, "code="+instance.AccessCode+"&userId=u1&name=Alice")
	readNext(player, t, "joined")

	if err := player.WriteJSON(map[string]any{"type": "advance"}); err != nil {
		t.Fatalf("write advance: %v", err)
	}
	for i := 0; i < 4; i++ {
		typ, _ := readNext(player, t, "")
		if typ == "error" {
			return
		}
	}
	t.Fatalf("expected an error reply for a player advance")
}

func TestWebSocketUnknownCode(t *testing.T) {
	server, _, _ := newTestServer(t)

	u := "ws" + server.URL[len("http"):] + "/ws?code=ZZZZZZ&userId=u1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected the dial to fail for an unknown code")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

func sampleQuestions() map[string]domain.Question {
	return map[string]domain.Question{
		"q1": {
			UID:  "q1",
			Text: "What is 2 + 2?",
			Payload: domain.MultipleChoice{
				Options: []string{"3", "4", "5"},
				Correct: []bool{false, true, false},
			},
		},
	}
}
