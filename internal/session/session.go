// Package session drives one game instance through its lifecycle: the state
// machine, the participant registry and the leaderboard aggregator live
// behind a single-writer run loop, so all mutations for a session are
// totally ordered by arrival.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mathquest/internal/domain"
)

// Snapshot is the persistable view of a session, handed to the storage
// layer off the hot path.
type Snapshot struct {
	Instance     domain.GameInstance
	Participants []domain.GameParticipant
}

// Options tune a session's environment. The zero value is usable.
type Options struct {
	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
	// OnDirty is invoked from the run loop after every applied mutation with
	// a consistent snapshot. It must not block.
	OnDirty func(Snapshot)
	Logger  *slog.Logger
}

// Session owns one game instance. All mutating calls are serialized through
// the inbound command channel; leaderboard reads go through atomic snapshot
// pointers and never touch the run loop.
type Session struct {
	id         string
	accessCode string

	cmds     chan command
	stop     chan struct{}
	stopOnce sync.Once

	subMu       sync.Mutex
	subscribers map[chan domain.Leaderboard]struct{}

	live     atomic.Pointer[domain.Leaderboard]
	deferred atomic.Pointer[domain.Leaderboard]

	clock   func() time.Time
	onDirty func(Snapshot)
	logger  *slog.Logger
}

type command struct {
	fn      func(*state)
	mutates bool
	done    chan struct{}
}

// New builds a session around an instance and starts its run loop. The
// participant slice may be empty for fresh instances or carry the last
// durable snapshot when rehydrating after a restart.
func New(instance domain.GameInstance, questions []domain.Question, participants []domain.GameParticipant, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Session{
		id:          instance.ID,
		accessCode:  instance.AccessCode,
		cmds:        make(chan command),
		stop:        make(chan struct{}),
		subscribers: make(map[chan domain.Leaderboard]struct{}),
		clock:       opts.Clock,
		onDirty:     opts.OnDirty,
		logger:      opts.Logger.With("session", instance.ID),
	}
	st := newState(instance, questions, participants)
	now := s.clock()
	s.publish(st.computeLeaderboard(domain.ViewLive, now))
	s.publish(st.computeLeaderboard(domain.ViewDeferred, now))
	go s.run(st)
	return s
}

// ID returns the game instance id.
func (s *Session) ID() string { return s.id }

// AccessCode returns the public join token.
func (s *Session) AccessCode() string { return s.accessCode }

func (s *Session) run(st *state) {
	liveFrozen := false
	defer s.closeSubscribers()

	for {
		select {
		case <-s.stop:
			return
		case c := <-s.cmds:
			c.fn(st)
			if c.mutates {
				now := s.clock()
				if !liveFrozen {
					s.publish(st.computeLeaderboard(domain.ViewLive, now))
					if st.instance.Status == domain.InstanceCompleted {
						// Final live ranking; deferred play must not move it.
						liveFrozen = true
					}
				}
				s.publish(st.computeLeaderboard(domain.ViewDeferred, now))
				s.broadcast(authoritativeView(st.instance))
				if s.onDirty != nil {
					s.onDirty(st.snapshot())
				}
			}
			close(c.done)
		}
	}
}

func (s *Session) publish(lb domain.Leaderboard) {
	switch lb.View {
	case domain.ViewDeferred:
		s.deferred.Store(&lb)
	default:
		s.live.Store(&lb)
	}
}

// broadcast pushes the authoritative view to subscribers without ever
// blocking the run loop; a slow subscriber loses stale updates.
func (s *Session) broadcast(view domain.LeaderboardView) {
	lb := s.Leaderboard(view)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- lb:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- lb:
			default:
			}
		}
	}
}

func authoritativeView(instance domain.GameInstance) domain.LeaderboardView {
	if instance.PlayMode == domain.PlayModeTournament && instance.Status == domain.InstanceCompleted {
		return domain.ViewDeferred
	}
	return domain.ViewLive
}

func (s *Session) do(ctx context.Context, mutates bool, fn func(*state)) error {
	c := command{fn: fn, mutates: mutates, done: make(chan struct{})}
	select {
	case s.cmds <- c:
	case <-s.stop:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-s.stop:
		return domain.ErrSessionClosed
	}
}

// Join registers or reconnects a user and returns their participant record.
func (s *Session) Join(ctx context.Context, userID, displayName string) (domain.GameParticipant, error) {
	var (
		p   domain.GameParticipant
		err error
	)
	doErr := s.do(ctx, true, func(st *state) {
		p, err = st.join(userID, displayName, s.clock())
	})
	if doErr != nil {
		return domain.GameParticipant{}, doErr
	}
	return p, err
}

// Start moves the session from pending to active.
func (s *Session) Start(ctx context.Context) error {
	var err error
	if doErr := s.do(ctx, true, func(st *state) {
		err = st.start(s.clock())
	}); doErr != nil {
		return doErr
	}
	return err
}

// Advance moves the shared cursor to the next question and returns its
// index, or NoQuestion when the session just completed.
func (s *Session) Advance(ctx context.Context) (int, error) {
	var (
		next int
		err  error
	)
	if doErr := s.do(ctx, true, func(st *state) {
		next, err = st.advance(s.clock())
	}); doErr != nil {
		return domain.NoQuestion, doErr
	}
	return next, err
}

// Complete ends the live phase early.
func (s *Session) Complete(ctx context.Context) error {
	var err error
	if doErr := s.do(ctx, true, func(st *state) {
		err = st.complete(s.clock())
	}); doErr != nil {
		return doErr
	}
	return err
}

// Submit scores one answer for one participant.
func (s *Session) Submit(ctx context.Context, participantID string, questionIndex int, ans domain.Answer, submittedAt time.Time) (domain.AnswerResult, error) {
	var (
		res domain.AnswerResult
		err error
	)
	if doErr := s.do(ctx, true, func(st *state) {
		res, err = st.submit(participantID, questionIndex, ans, submittedAt, s.clock())
	}); doErr != nil {
		return domain.AnswerResult{}, doErr
	}
	return res, err
}

// MarkLeft records a disconnect without touching scores.
func (s *Session) MarkLeft(ctx context.Context, participantID string) error {
	var err error
	if doErr := s.do(ctx, true, func(st *state) {
		err = st.markLeft(participantID, s.clock())
	}); doErr != nil {
		return doErr
	}
	return err
}

// CompleteParticipant marks one participant terminal.
func (s *Session) CompleteParticipant(ctx context.Context, participantID string) error {
	var err error
	if doErr := s.do(ctx, true, func(st *state) {
		err = st.markCompleted(participantID, s.clock())
	}); doErr != nil {
		return doErr
	}
	return err
}

// Participant returns a copy of one participant record.
func (s *Session) Participant(ctx context.Context, participantID string) (domain.GameParticipant, error) {
	var (
		p   domain.GameParticipant
		err error
	)
	if doErr := s.do(ctx, false, func(st *state) {
		p, err = st.participant(participantID)
	}); doErr != nil {
		return domain.GameParticipant{}, doErr
	}
	return p, err
}

// Leaderboard returns the cached ranking for a view. It is safe to call
// concurrently with mutations; the snapshot is immutable.
func (s *Session) Leaderboard(view domain.LeaderboardView) domain.Leaderboard {
	var ptr *domain.Leaderboard
	if view == domain.ViewDeferred {
		ptr = s.deferred.Load()
	} else {
		ptr = s.live.Load()
	}
	if ptr == nil {
		return domain.Leaderboard{InstanceID: s.id, View: view}
	}
	return *ptr
}

// Subscribe returns a channel receiving leaderboard snapshots after every
// mutation, primed with the current one. The caller must invoke cancel to
// avoid leaks.
func (s *Session) Subscribe() (<-chan domain.Leaderboard, func(), error) {
	select {
	case <-s.stop:
		return nil, nil, domain.ErrSessionClosed
	default:
	}

	ch := make(chan domain.Leaderboard, 8)
	s.subMu.Lock()
	if s.subscribers == nil {
		s.subMu.Unlock()
		return nil, nil, domain.ErrSessionClosed
	}
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	ch <- s.Leaderboard(domain.ViewLive)

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
}

// Snapshot returns a consistent persistable copy of the session.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := s.do(ctx, false, func(st *state) {
		snap = st.snapshot()
	}); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Instance returns a copy of the current instance record.
func (s *Session) Instance(ctx context.Context) (domain.GameInstance, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return domain.GameInstance{}, err
	}
	return snap.Instance, nil
}

// Stop tears the run loop down. Pending callers receive ErrSessionClosed.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (st *state) snapshot() Snapshot {
	snap := Snapshot{Instance: st.instance}
	snap.Participants = make([]domain.GameParticipant, 0, len(st.participants))
	for _, p := range st.participants {
		snap.Participants = append(snap.Participants, p.Clone())
	}
	return snap
}
