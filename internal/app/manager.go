// Package app wires the session engine together: it resolves game instances
// by access code, owns the in-memory sessions and snapshots them to storage.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"mathquest/internal/catalog"
	"mathquest/internal/domain"
	"mathquest/internal/session"
)

// Store is the narrow persistence surface the engine depends on. Saves are
// idempotent upserts; the in-memory session stays authoritative between
// snapshots.
type Store interface {
	LoadGameInstance(ctx context.Context, id string) (domain.GameInstance, error)
	LoadGameInstanceByCode(ctx context.Context, accessCode string) (domain.GameInstance, error)
	SaveGameInstance(ctx context.Context, instance domain.GameInstance) error
	LoadParticipants(ctx context.Context, gameInstanceID string) ([]domain.GameParticipant, error)
	SaveParticipant(ctx context.Context, participant domain.GameParticipant) error
	LoadTemplateQuestions(ctx context.Context, templateID string) ([]domain.QuestionRef, error)
}

// CodeIndex is an optional shared routing table mapping access codes to
// instance ids (redis in production). A nil index means codes resolve
// through the Store only.
type CodeIndex interface {
	Bind(ctx context.Context, accessCode, instanceID string) error
	Lookup(ctx context.Context, accessCode string) (string, error)
	Unbind(ctx context.Context, accessCode string) error
}

// Config tunes the manager. Zero values fall back to sane defaults.
type Config struct {
	// SnapshotDebounce bounds write amplification: at most one snapshot per
	// session per interval. Defaults to 2s.
	SnapshotDebounce time.Duration
	// DefaultSettings seed instances created without explicit settings.
	DefaultSettings domain.Settings
	// AccessCodeLength defaults to 6.
	AccessCodeLength int
	Logger           *slog.Logger
	Clock            func() time.Time
}

// Manager is the root of the engine: every caller-facing operation routes
// through it to the owning session.
type Manager struct {
	store   Store
	catalog catalog.Catalog
	codes   CodeIndex
	logger  *slog.Logger
	clock   func() time.Time
	cfg     Config

	mu     sync.RWMutex
	byID   map[string]*managed
	byCode map[string]*managed

	snapshots chan session.Snapshot
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	rndMu sync.Mutex
	rnd   *rand.Rand
}

type managed struct {
	sess *session.Session

	dirtyMu sync.Mutex
	latest  *session.Snapshot
	timer   *time.Timer
	retired bool
}

// NewManager builds the manager and starts its snapshot persister.
func NewManager(store Store, cat catalog.Catalog, codes CodeIndex, cfg Config) *Manager {
	if cfg.SnapshotDebounce <= 0 {
		cfg.SnapshotDebounce = 2 * time.Second
	}
	if cfg.AccessCodeLength <= 0 {
		cfg.AccessCodeLength = 6
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	m := &Manager{
		store:     store,
		catalog:   cat,
		codes:     codes,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		cfg:       cfg,
		byID:      make(map[string]*managed),
		byCode:    make(map[string]*managed),
		snapshots: make(chan session.Snapshot, 64),
		done:      make(chan struct{}),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	m.wg.Add(1)
	go m.persistLoop()
	return m
}

// CreateSession spawns a new game instance of a template and returns it.
// The instance is persisted before the access code is handed out.
func (m *Manager) CreateSession(ctx context.Context, templateID, creatorID string, mode domain.PlayMode, settings domain.Settings) (domain.GameInstance, error) {
	if !mode.Valid() {
		return domain.GameInstance{}, fmt.Errorf("create session: unknown play mode %q", mode)
	}
	refs, err := m.store.LoadTemplateQuestions(ctx, templateID)
	if err != nil {
		return domain.GameInstance{}, fmt.Errorf("create session: %w", err)
	}
	if len(refs) == 0 {
		return domain.GameInstance{}, domain.ErrTemplateNotFound
	}
	questions, err := m.resolveQuestions(ctx, refs)
	if err != nil {
		return domain.GameInstance{}, err
	}

	code, err := m.freeAccessCode(ctx)
	if err != nil {
		return domain.GameInstance{}, err
	}

	if settings == (domain.Settings{}) {
		settings = m.cfg.DefaultSettings
	}
	now := m.clock()
	instance := domain.GameInstance{
		ID:              uuid.NewString(),
		TemplateID:      templateID,
		CreatorID:       creatorID,
		AccessCode:      code,
		Status:          domain.InstancePending,
		PlayMode:        mode,
		CurrentQuestion: domain.NoQuestion,
		Settings:        settings,
		CreatedAt:       now,
	}
	if err := m.store.SaveGameInstance(ctx, instance); err != nil {
		return domain.GameInstance{}, fmt.Errorf("create session: %w", err)
	}
	if m.codes != nil {
		if err := m.codes.Bind(ctx, code, instance.ID); err != nil {
			m.logger.Warn("access code bind failed", "code", code, "err", err)
		}
	}

	m.spawn(instance, questions, nil)
	return instance, nil
}

// JoinSession resolves an access code and registers the user, rehydrating
// the session from storage if this process does not hold it yet.
func (m *Manager) JoinSession(ctx context.Context, accessCode, userID, displayName string) (domain.GameParticipant, error) {
	mg, err := m.byAccessCode(ctx, accessCode)
	if err != nil {
		return domain.GameParticipant{}, err
	}
	return mg.sess.Join(ctx, userID, displayName)
}

// Resolve maps an access code to a session id, loading the session if
// needed.
func (m *Manager) Resolve(ctx context.Context, accessCode string) (string, error) {
	mg, err := m.byAccessCode(ctx, accessCode)
	if err != nil {
		return "", err
	}
	return mg.sess.ID(), nil
}

// StartSession begins the live phase.
func (m *Manager) StartSession(ctx context.Context, sessionID string) error {
	mg, err := m.bySessionID(sessionID)
	if err != nil {
		return err
	}
	return mg.sess.Start(ctx)
}

// AdvanceQuestion moves the shared cursor; teacher-only by convention, the
// transport enforces who may call it.
func (m *Manager) AdvanceQuestion(ctx context.Context, sessionID string) (int, error) {
	mg, err := m.bySessionID(sessionID)
	if err != nil {
		return domain.NoQuestion, err
	}
	return mg.sess.Advance(ctx)
}

// CompleteSession ends the live phase early.
func (m *Manager) CompleteSession(ctx context.Context, sessionID string) error {
	mg, err := m.bySessionID(sessionID)
	if err != nil {
		return err
	}
	return mg.sess.Complete(ctx)
}

// SubmitAnswer scores one answer.
func (m *Manager) SubmitAnswer(ctx context.Context, sessionID, participantID string, questionIndex int, ans domain.Answer, submittedAt time.Time) (domain.AnswerResult, error) {
	mg, err := m.bySessionID(sessionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	return mg.sess.Submit(ctx, participantID, questionIndex, ans, submittedAt)
}

// LeaveSession records a disconnect; scores and attempts survive for a
// later rejoin.
func (m *Manager) LeaveSession(ctx context.Context, sessionID, participantID string) error {
	mg, err := m.bySessionID(sessionID)
	if err != nil {
		return err
	}
	return mg.sess.MarkLeft(ctx, participantID)
}

// GetLeaderboard returns the cached ranking for a view.
func (m *Manager) GetLeaderboard(ctx context.Context, sessionID string, view domain.LeaderboardView) (domain.Leaderboard, error) {
	mg, err := m.bySessionID(sessionID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return mg.sess.Leaderboard(view), nil
}

// Subscribe streams leaderboard updates for a session.
func (m *Manager) Subscribe(ctx context.Context, sessionID string) (<-chan domain.Leaderboard, func(), error) {
	mg, err := m.bySessionID(sessionID)
	if err != nil {
		return nil, nil, err
	}
	return mg.sess.Subscribe()
}

// Close flushes every session synchronously and stops the persister.
func (m *Manager) Close(ctx context.Context) error {
	var firstErr error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		sessions := make([]*managed, 0, len(m.byID))
		for _, mg := range m.byID {
			sessions = append(sessions, mg)
		}
		m.byID = make(map[string]*managed)
		m.byCode = make(map[string]*managed)
		m.mu.Unlock()

		for _, mg := range sessions {
			if err := m.flush(ctx, mg); err != nil && firstErr == nil {
				firstErr = err
			}
			mg.sess.Stop()
		}
		close(m.done)
		m.wg.Wait()
	})
	return firstErr
}

func (m *Manager) bySessionID(sessionID string) (*managed, error) {
	m.mu.RLock()
	mg, ok := m.byID[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return mg, nil
}

// byAccessCode resolves a code against memory first, then the code index,
// then storage; a hit from storage rehydrates the session from its last
// durable snapshot.
func (m *Manager) byAccessCode(ctx context.Context, accessCode string) (*managed, error) {
	m.mu.RLock()
	mg, ok := m.byCode[accessCode]
	m.mu.RUnlock()
	if ok {
		return mg, nil
	}

	var (
		instance domain.GameInstance
		err      error
	)
	if m.codes != nil {
		if id, lookupErr := m.codes.Lookup(ctx, accessCode); lookupErr == nil && id != "" {
			instance, err = m.store.LoadGameInstance(ctx, id)
		} else {
			instance, err = m.store.LoadGameInstanceByCode(ctx, accessCode)
		}
	} else {
		instance, err = m.store.LoadGameInstanceByCode(ctx, accessCode)
	}
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("resolve access code: %w", err)
	}

	refs, err := m.store.LoadTemplateQuestions(ctx, instance.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("rehydrate session %s: %w", instance.ID, err)
	}
	questions, err := m.resolveQuestions(ctx, refs)
	if err != nil {
		return nil, err
	}
	participants, err := m.store.LoadParticipants(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("rehydrate session %s: %w", instance.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have rehydrated while we were loading.
	if existing, ok := m.byCode[accessCode]; ok {
		return existing, nil
	}
	mg = m.spawnLocked(instance, questions, participants)
	return mg, nil
}

func (m *Manager) resolveQuestions(ctx context.Context, refs []domain.QuestionRef) ([]domain.Question, error) {
	questions := make([]domain.Question, len(refs))
	for i, ref := range refs {
		q, err := m.catalog.Question(ctx, ref.UID)
		if err != nil {
			return nil, fmt.Errorf("resolve question %s: %w", ref.UID, err)
		}
		questions[i] = q
	}
	return questions, nil
}

func (m *Manager) spawn(instance domain.GameInstance, questions []domain.Question, participants []domain.GameParticipant) *managed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spawnLocked(instance, questions, participants)
}

func (m *Manager) spawnLocked(instance domain.GameInstance, questions []domain.Question, participants []domain.GameParticipant) *managed {
	mg := &managed{}
	mg.sess = session.New(instance, questions, participants, session.Options{
		Clock:   m.clock,
		Logger:  m.logger,
		OnDirty: func(snap session.Snapshot) { m.markDirty(mg, snap) },
	})
	m.byID[instance.ID] = mg
	m.byCode[instance.AccessCode] = mg
	return mg
}

// freeAccessCode draws short uppercase codes until one is unused. Ambiguous
// characters are excluded so the code survives being read out loud.
func (m *Manager) freeAccessCode(ctx context.Context) (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	for attempt := 0; attempt < 32; attempt++ {
		buf := make([]byte, m.cfg.AccessCodeLength)
		m.rndMu.Lock()
		for i := range buf {
			buf[i] = alphabet[m.rnd.Intn(len(alphabet))]
		}
		m.rndMu.Unlock()
		code := string(buf)

		m.mu.RLock()
		_, taken := m.byCode[code]
		m.mu.RUnlock()
		if taken {
			continue
		}
		if _, err := m.store.LoadGameInstanceByCode(ctx, code); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrSessionNotFound) {
			return "", fmt.Errorf("check access code: %w", err)
		}
		return code, nil
	}
	return "", errors.New("could not allocate a free access code")
}
