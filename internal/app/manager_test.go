package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"mathquest/internal/app"
	"mathquest/internal/catalog"
	"mathquest/internal/domain"
	"mathquest/internal/infra/memory"
)

func newTestManager(t *testing.T) (*app.Manager, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.SeedTemplate("tpl-1", []domain.QuestionRef{
		{UID: "q1", Sequence: 0},
		{UID: "q2", Sequence: 1},
	})
	cat := catalog.NewCache(catalog.NewStaticLoader(map[string]domain.Question{
		"q1": {
			UID: "q1",
			Payload: domain.MultipleChoice{
				Options: []string{"no", "yes"},
				Correct: []bool{false, true},
			},
		},
		"q2": {
			UID:     "q2",
			Payload: domain.Numeric{Value: 7, Tolerance: 0.5},
		},
	}), 5*time.Minute)

	m := app.NewManager(store, cat, nil, app.Config{
		SnapshotDebounce: 10 * time.Millisecond,
		DefaultSettings:  domain.Settings{BasePoints: 10},
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, store
}

func TestCreateJoinSubmitFlow(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	instance, err := m.CreateSession(ctx, "tpl-1", "teacher-1", domain.PlayModeQuiz, domain.Settings{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if instance.AccessCode == "" {
		t.Fatalf("expected an access code")
	}
	if instance.Status != domain.InstancePending {
		t.Fatalf("expected pending instance, got %s", instance.Status)
	}

	p, err := m.JoinSession(ctx, instance.AccessCode, "u1", "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := m.StartSession(ctx, instance.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	res, err := m.SubmitAnswer(ctx, instance.ID, p.ID, 0, domain.ChoiceAnswer{Selected: []int{1}}, time.Now())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Correct || res.PointsAwarded != 10 {
		t.Fatalf("expected 10 points, got %+v", res)
	}

	if _, err := m.AdvanceQuestion(ctx, instance.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	res, err = m.SubmitAnswer(ctx, instance.ID, p.ID, 1, domain.NumericAnswer{Value: 7.4}, time.Now())
	if err != nil {
		t.Fatalf("submit numeric: %v", err)
	}
	if !res.Correct {
		t.Fatalf("expected numeric answer within tolerance to be correct")
	}

	lb, err := m.GetLeaderboard(ctx, instance.ID, domain.ViewLive)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 1 || lb.Entries[0].Score != 20 {
		t.Fatalf("expected one entry with 20 points, got %+v", lb.Entries)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.JoinSession(ctx, "NOPE42", "u1", "Alice")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCreateSessionUnknownTemplate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.CreateSession(ctx, "tpl-missing", "teacher-1", domain.PlayModeQuiz, domain.Settings{})
	if !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestSnapshotsReachStore(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	instance, err := m.CreateSession(ctx, "tpl-1", "teacher-1", domain.PlayModeQuiz, domain.Settings{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	p, err := m.JoinSession(ctx, instance.AccessCode, "u1", "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := m.StartSession(ctx, instance.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.SubmitAnswer(ctx, instance.ID, p.ID, 0, domain.ChoiceAnswer{Selected: []int{1}}, time.Now()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Debounced snapshots land shortly after the burst.
	deadline := time.Now().Add(2 * time.Second)
	for {
		participants, err := store.LoadParticipants(ctx, instance.ID)
		if err != nil {
			t.Fatalf("load participants: %v", err)
		}
		if len(participants) == 1 && participants[0].LiveScore == 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never reached the store, got %+v", participants)
		}
		time.Sleep(10 * time.Millisecond)
	}

	saved, err := store.LoadGameInstance(ctx, instance.ID)
	if err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if saved.Status != domain.InstanceActive {
		t.Fatalf("expected persisted active status, got %s", saved.Status)
	}
}

func TestRehydrateFromStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedTemplate("tpl-1", []domain.QuestionRef{{UID: "q1", Sequence: 0}})
	loader := catalog.NewStaticLoader(map[string]domain.Question{
		"q1": {
			UID: "q1",
			Payload: domain.MultipleChoice{
				Options: []string{"no", "yes"},
				Correct: []bool{false, true},
			},
		},
	})

	// Simulate a previous process having persisted a running session.
	instance := domain.GameInstance{
		ID:              "game-old",
		TemplateID:      "tpl-1",
		AccessCode:      "CODE99",
		Status:          domain.InstanceActive,
		PlayMode:        domain.PlayModeQuiz,
		CurrentQuestion: 0,
		Settings:        domain.Settings{BasePoints: 10},
		CreatedAt:       time.Now(),
	}
	if err := store.SaveGameInstance(ctx, instance); err != nil {
		t.Fatalf("seed instance: %v", err)
	}
	participant := domain.GameParticipant{
		ID:             "p-old",
		GameInstanceID: "game-old",
		UserID:         "u1",
		DisplayName:    "Alice",
		Status:         domain.ParticipantActive,
		LiveScore:      40,
		Attempts:       4,
		JoinedAt:       time.Now(),
		LastActiveAt:   time.Now(),
	}
	if err := store.SaveParticipant(ctx, participant); err != nil {
		t.Fatalf("seed participant: %v", err)
	}

	m := app.NewManager(store, catalog.NewCache(loader, time.Minute), nil, app.Config{})
	defer m.Close(ctx)

	rejoined, err := m.JoinSession(ctx, "CODE99", "u1", "Alice")
	if err != nil {
		t.Fatalf("rejoin after restart: %v", err)
	}
	if rejoined.ID != "p-old" {
		t.Fatalf("expected the persisted participant, got %s", rejoined.ID)
	}
	if rejoined.LiveScore != 40 {
		t.Fatalf("expected score preserved across restart, got %d", rejoined.LiveScore)
	}
}
