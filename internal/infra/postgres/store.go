// Package postgres implements the engine's storage interface and the
// question catalog loader on top of pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mathquest/internal/domain"
)

// Store persists game instances and participants. All saves are idempotent
// upserts keyed by id, so retried snapshots are harmless.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) LoadGameInstance(ctx context.Context, id string) (domain.GameInstance, error) {
	return s.loadInstance(ctx, `WHERE id=$1`, id)
}

func (s *Store) LoadGameInstanceByCode(ctx context.Context, accessCode string) (domain.GameInstance, error) {
	return s.loadInstance(ctx, `WHERE access_code=$1`, accessCode)
}

func (s *Store) loadInstance(ctx context.Context, where string, arg any) (domain.GameInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, template_id, creator_id, access_code, status, play_mode,
		       current_question, settings, deferred_from, deferred_to, created_at
		FROM game_instances `+where, arg)

	var (
		instance     domain.GameInstance
		status, mode string
		settingsRaw  []byte
		from, to     *time.Time
	)
	err := row.Scan(&instance.ID, &instance.TemplateID, &instance.CreatorID,
		&instance.AccessCode, &status, &mode, &instance.CurrentQuestion,
		&settingsRaw, &from, &to, &instance.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameInstance{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.GameInstance{}, fmt.Errorf("load game instance: %w", err)
	}
	instance.Status = domain.InstanceStatus(status)
	instance.PlayMode = domain.PlayMode(mode)
	if len(settingsRaw) > 0 {
		if err := json.Unmarshal(settingsRaw, &instance.Settings); err != nil {
			return domain.GameInstance{}, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	if from != nil {
		instance.DeferredFrom = *from
	}
	if to != nil {
		instance.DeferredTo = *to
	}
	return instance, nil
}

func (s *Store) SaveGameInstance(ctx context.Context, instance domain.GameInstance) error {
	settingsRaw, err := json.Marshal(instance.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	var from, to *time.Time
	if !instance.DeferredFrom.IsZero() {
		from = &instance.DeferredFrom
	}
	if !instance.DeferredTo.IsZero() {
		to = &instance.DeferredTo
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO game_instances
			(id, template_id, creator_id, access_code, status, play_mode,
			 current_question, settings, deferred_from, deferred_to, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			play_mode=EXCLUDED.play_mode,
			current_question=EXCLUDED.current_question,
			settings=EXCLUDED.settings,
			deferred_from=EXCLUDED.deferred_from,
			deferred_to=EXCLUDED.deferred_to`,
		instance.ID, instance.TemplateID, instance.CreatorID, instance.AccessCode,
		string(instance.Status), string(instance.PlayMode), instance.CurrentQuestion,
		settingsRaw, from, to, instance.CreatedAt)
	if err != nil {
		return fmt.Errorf("save game instance: %w", err)
	}
	return nil
}

func (s *Store) LoadParticipants(ctx context.Context, gameInstanceID string) ([]domain.GameParticipant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, game_instance_id, user_id, display_name, status,
		       live_score, deferred_score, attempts,
		       answered_live, answered_deferred,
		       joined_at, last_active_at, completed_at
		FROM game_participants WHERE game_instance_id=$1`, gameInstanceID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()

	var out []domain.GameParticipant
	for rows.Next() {
		var (
			p               domain.GameParticipant
			status          string
			liveRaw, defRaw []byte
			completedAt     *time.Time
		)
		if err := rows.Scan(&p.ID, &p.GameInstanceID, &p.UserID, &p.DisplayName,
			&status, &p.LiveScore, &p.DeferredScore, &p.Attempts,
			&liveRaw, &defRaw, &p.JoinedAt, &p.LastActiveAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Status = domain.ParticipantStatus(status)
		p.CompletedAt = completedAt
		if p.AnsweredLive, err = decodeAnsweredSet(liveRaw); err != nil {
			return nil, err
		}
		if p.AnsweredDeferred, err = decodeAnsweredSet(defRaw); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SaveParticipant(ctx context.Context, p domain.GameParticipant) error {
	liveRaw, err := encodeAnsweredSet(p.AnsweredLive)
	if err != nil {
		return err
	}
	defRaw, err := encodeAnsweredSet(p.AnsweredDeferred)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO game_participants
			(id, game_instance_id, user_id, display_name, status,
			 live_score, deferred_score, attempts,
			 answered_live, answered_deferred,
			 joined_at, last_active_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			display_name=EXCLUDED.display_name,
			status=EXCLUDED.status,
			live_score=EXCLUDED.live_score,
			deferred_score=EXCLUDED.deferred_score,
			attempts=EXCLUDED.attempts,
			answered_live=EXCLUDED.answered_live,
			answered_deferred=EXCLUDED.answered_deferred,
			last_active_at=EXCLUDED.last_active_at,
			completed_at=EXCLUDED.completed_at`,
		p.ID, p.GameInstanceID, p.UserID, p.DisplayName, string(p.Status),
		p.LiveScore, p.DeferredScore, p.Attempts, liveRaw, defRaw,
		p.JoinedAt, p.LastActiveAt, p.CompletedAt)
	if err != nil {
		return fmt.Errorf("save participant: %w", err)
	}
	return nil
}

func (s *Store) LoadTemplateQuestions(ctx context.Context, templateID string) ([]domain.QuestionRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT question_uid, sequence FROM template_questions
		WHERE template_id=$1 ORDER BY sequence`, templateID)
	if err != nil {
		return nil, fmt.Errorf("load template questions: %w", err)
	}
	defer rows.Close()

	var refs []domain.QuestionRef
	for rows.Next() {
		var ref domain.QuestionRef
		if err := rows.Scan(&ref.UID, &ref.Sequence); err != nil {
			return nil, fmt.Errorf("scan question ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, domain.ErrTemplateNotFound
	}
	return refs, nil
}

// LoadQuestion makes the store double as the catalog loader behind the
// cache layers.
func (s *Store) LoadQuestion(ctx context.Context, uid string) (domain.Question, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM questions WHERE uid=$1`, uid).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal question: %w", err)
	}
	return q, nil
}

func encodeAnsweredSet(set map[int]bool) ([]byte, error) {
	indices := make([]int, 0, len(set))
	for idx, ok := range set {
		if ok {
			indices = append(indices, idx)
		}
	}
	raw, err := json.Marshal(indices)
	if err != nil {
		return nil, fmt.Errorf("encode answered set: %w", err)
	}
	return raw, nil
}

func decodeAnsweredSet(raw []byte) (map[int]bool, error) {
	set := make(map[int]bool)
	if len(raw) == 0 {
		return set, nil
	}
	var indices []int
	if err := json.Unmarshal(raw, &indices); err != nil {
		return nil, fmt.Errorf("decode answered set: %w", err)
	}
	for _, idx := range indices {
		set[idx] = true
	}
	return set, nil
}
