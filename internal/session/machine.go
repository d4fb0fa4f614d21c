package session

import (
	"time"

	"mathquest/internal/domain"
	"mathquest/internal/scoring"
)

// state is the single-writer view of one game instance. Only the session's
// run loop touches it, so no locking happens here.
type state struct {
	instance     domain.GameInstance
	questions    []domain.Question
	participants map[string]*domain.GameParticipant
	byUser       map[string]string
	// openedAt is when the current question became current; it anchors the
	// server-side time spent for lockstep scoring.
	openedAt time.Time
}

func newState(instance domain.GameInstance, questions []domain.Question, participants []domain.GameParticipant) *state {
	st := &state{
		instance:     instance,
		questions:    questions,
		participants: make(map[string]*domain.GameParticipant, len(participants)),
		byUser:       make(map[string]string, len(participants)),
	}
	for i := range participants {
		p := participants[i].Clone()
		if p.AnsweredLive == nil {
			p.AnsweredLive = make(map[int]bool)
		}
		if p.AnsweredDeferred == nil {
			p.AnsweredDeferred = make(map[int]bool)
		}
		st.participants[p.ID] = &p
		st.byUser[p.UserID] = p.ID
	}
	return st
}

// start moves the instance from pending to active and opens the first
// question. Practice instances keep no shared cursor: participants pace
// themselves, so the cursor stays at NoQuestion.
func (st *state) start(now time.Time) error {
	if st.instance.Status != domain.InstancePending {
		return domain.ErrInvalidTransition
	}
	st.instance.Status = domain.InstanceActive
	if st.instance.PlayMode == domain.PlayModePractice {
		st.instance.CurrentQuestion = domain.NoQuestion
	} else {
		st.instance.CurrentQuestion = 0
		st.openedAt = now
	}
	for _, p := range st.participants {
		if p.Status == domain.ParticipantPending {
			p.Status = domain.ParticipantActive
			p.LastActiveAt = now
		}
	}
	return nil
}

// advance moves the shared cursor forward; past the last question the
// instance completes. The cursor never moves backwards.
func (st *state) advance(now time.Time) (int, error) {
	if st.instance.Status != domain.InstanceActive {
		return domain.NoQuestion, domain.ErrInvalidTransition
	}
	if st.instance.PlayMode == domain.PlayModePractice {
		return domain.NoQuestion, domain.ErrInvalidTransition
	}
	next := st.instance.CurrentQuestion + 1
	if next >= len(st.questions) {
		st.finish(now)
		return domain.NoQuestion, nil
	}
	st.instance.CurrentQuestion = next
	st.openedAt = now
	return next, nil
}

// complete is the teacher-triggered early termination.
func (st *state) complete(now time.Time) error {
	if st.instance.Status != domain.InstanceActive {
		return domain.ErrInvalidTransition
	}
	st.finish(now)
	return nil
}

// finish closes the live phase. Tournaments open their deferred window here;
// their participants stay active so they can replay inside the window.
// Everyone else is marked completed with a shared completion stamp.
func (st *state) finish(now time.Time) {
	st.instance.Status = domain.InstanceCompleted
	st.instance.CurrentQuestion = domain.NoQuestion

	if st.instance.PlayMode == domain.PlayModeTournament {
		if window := st.instance.Settings.DeferredWindow; window > 0 && st.instance.DeferredFrom.IsZero() {
			st.instance.DeferredFrom = now
			st.instance.DeferredTo = now.Add(window)
		}
		return
	}
	for _, p := range st.participants {
		if p.Status == domain.ParticipantActive || p.Status == domain.ParticipantPending {
			st.completeParticipant(p, now)
		}
	}
}

func (st *state) completeParticipant(p *domain.GameParticipant, now time.Time) {
	p.Status = domain.ParticipantCompleted
	stamp := now
	p.CompletedAt = &stamp
	p.LastActiveAt = now
}

// submit validates, scores and applies one answer. Attempts are counted for
// every submission that reaches a scoreable question, including rejected
// duplicates.
func (st *state) submit(participantID string, questionIndex int, ans domain.Answer, submittedAt, now time.Time) (domain.AnswerResult, error) {
	p, ok := st.participants[participantID]
	if !ok {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	if p.Status == domain.ParticipantCompleted {
		return domain.AnswerResult{}, domain.ErrSessionClosed
	}

	switch st.instance.Status {
	case domain.InstancePending:
		return domain.AnswerResult{}, domain.ErrInvalidTransition
	case domain.InstanceActive:
		return st.submitLive(p, questionIndex, ans, submittedAt, now)
	case domain.InstanceCompleted:
		return st.submitDeferred(p, questionIndex, ans, now)
	default:
		return domain.AnswerResult{}, domain.ErrInvalidTransition
	}
}

func (st *state) submitLive(p *domain.GameParticipant, questionIndex int, ans domain.Answer, submittedAt, now time.Time) (domain.AnswerResult, error) {
	if questionIndex < 0 || questionIndex >= len(st.questions) {
		return domain.AnswerResult{}, domain.ErrQuestionNotFound
	}

	free := st.instance.PlayMode == domain.PlayModePractice
	if !free && questionIndex != st.instance.CurrentQuestion {
		return domain.AnswerResult{}, domain.ErrStaleQuestion
	}

	p.Attempts++
	p.LastActiveAt = now
	if p.Status == domain.ParticipantLeft {
		// A submission from a "left" participant means the client is back.
		p.Status = domain.ParticipantActive
	}
	if p.AnsweredLive[questionIndex] {
		return domain.AnswerResult{}, domain.ErrDuplicateAnswer
	}

	var timeSpent time.Duration
	if !free && !st.openedAt.IsZero() {
		at := submittedAt
		if at.IsZero() {
			at = now
		}
		timeSpent = at.Sub(st.openedAt)
		if timeSpent < 0 {
			timeSpent = 0
		}
	}

	out := scoring.Evaluate(st.questions[questionIndex], ans, st.instance.Settings, timeSpent)
	p.AnsweredLive[questionIndex] = true
	p.LiveScore += out.Points

	if free && len(p.AnsweredLive) == len(st.questions) {
		st.completeParticipant(p, now)
	}

	return domain.AnswerResult{
		QuestionIndex: questionIndex,
		Correct:       out.Correct,
		PointsAwarded: out.Points,
		TotalScore:    p.LiveScore,
		View:          domain.ViewLive,
	}, nil
}

// submitDeferred scores a replay inside the post-event window. Deferred
// answers keep their own answered set and accumulator so live results are
// never conflated with the replay.
func (st *state) submitDeferred(p *domain.GameParticipant, questionIndex int, ans domain.Answer, now time.Time) (domain.AnswerResult, error) {
	if !st.instance.DeferredOpen(now) {
		return domain.AnswerResult{}, domain.ErrSessionClosed
	}
	if questionIndex < 0 || questionIndex >= len(st.questions) {
		return domain.AnswerResult{}, domain.ErrQuestionNotFound
	}

	p.Attempts++
	p.LastActiveAt = now
	if p.Status == domain.ParticipantLeft {
		p.Status = domain.ParticipantActive
	}
	if p.AnsweredDeferred[questionIndex] {
		return domain.AnswerResult{}, domain.ErrDuplicateAnswer
	}

	// No shared question timer exists in the deferred phase; replays score
	// flat at the configured base.
	out := scoring.Evaluate(st.questions[questionIndex], ans, st.instance.Settings, 0)
	p.AnsweredDeferred[questionIndex] = true
	p.DeferredScore += out.Points

	return domain.AnswerResult{
		QuestionIndex: questionIndex,
		Correct:       out.Correct,
		PointsAwarded: out.Points,
		TotalScore:    p.DeferredScore,
		View:          domain.ViewDeferred,
	}, nil
}
