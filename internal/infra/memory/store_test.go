package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"mathquest/internal/domain"
	"mathquest/internal/infra/memory"
)

func TestInstanceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	instance := domain.GameInstance{
		ID:         "game-1",
		TemplateID: "tpl-1",
		AccessCode: "ABC234",
		Status:     domain.InstancePending,
		PlayMode:   domain.PlayModeQuiz,
		CreatedAt:  time.Now(),
	}
	if err := store.SaveGameInstance(ctx, instance); err != nil {
		t.Fatalf("save: %v", err)
	}

	byID, err := store.LoadGameInstance(ctx, "game-1")
	if err != nil {
		t.Fatalf("load by id: %v", err)
	}
	if byID.AccessCode != "ABC234" {
		t.Fatalf("unexpected instance %+v", byID)
	}

	byCode, err := store.LoadGameInstanceByCode(ctx, "ABC234")
	if err != nil {
		t.Fatalf("load by code: %v", err)
	}
	if byCode.ID != "game-1" {
		t.Fatalf("unexpected instance %+v", byCode)
	}

	if _, err := store.LoadGameInstance(ctx, "nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.LoadGameInstanceByCode(ctx, "ZZZZZZ"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestParticipantUpsertIsolation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	p := domain.GameParticipant{
		ID:             "p1",
		GameInstanceID: "game-1",
		UserID:         "u1",
		DisplayName:    "Alice",
		Status:         domain.ParticipantActive,
		LiveScore:      10,
		AnsweredLive:   map[int]bool{0: true},
	}
	if err := store.SaveParticipant(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	p.LiveScore = 999
	p.AnsweredLive[5] = true

	loaded, err := store.LoadParticipants(ctx, "game-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected one participant, got %d", len(loaded))
	}
	if loaded[0].LiveScore != 10 {
		t.Fatalf("store copy mutated: %+v", loaded[0])
	}
	if loaded[0].AnsweredLive[5] {
		t.Fatalf("answered set shared with caller")
	}

	// Upsert replaces the previous row.
	p.LiveScore = 20
	if err := store.SaveParticipant(ctx, p); err != nil {
		t.Fatalf("resave: %v", err)
	}
	loaded, _ = store.LoadParticipants(ctx, "game-1")
	if len(loaded) != 1 || loaded[0].LiveScore != 20 {
		t.Fatalf("expected single upserted row with score 20, got %+v", loaded)
	}
}

func TestTemplateQuestions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedTemplate("tpl-1", []domain.QuestionRef{
		{UID: "q1", Sequence: 0},
		{UID: "q2", Sequence: 1},
	})

	refs, err := store.LoadTemplateQuestions(ctx, "tpl-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(refs) != 2 || refs[0].UID != "q1" || refs[1].UID != "q2" {
		t.Fatalf("unexpected refs %+v", refs)
	}

	if _, err := store.LoadTemplateQuestions(ctx, "missing"); !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}
