package domain

import "time"

// PlayMode selects how a game instance is paced and scored.
type PlayMode string

const (
	// PlayModeQuiz is fully synchronous: everyone answers the question the
	// teacher is currently showing.
	PlayModeQuiz PlayMode = "quiz"
	// PlayModeTournament is scored live but stays playable inside a deferred
	// window after the live event ends.
	PlayModeTournament PlayMode = "tournament"
	// PlayModePractice is self-paced; there is no shared question cursor.
	PlayModePractice PlayMode = "practice"
)

// Valid reports whether m is one of the recognized play modes.
func (m PlayMode) Valid() bool {
	switch m {
	case PlayModeQuiz, PlayModeTournament, PlayModePractice:
		return true
	}
	return false
}

// InstanceStatus is the lifecycle state of a game instance.
type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceActive    InstanceStatus = "active"
	InstanceCompleted InstanceStatus = "completed"
)

// ParticipantStatus is the lifecycle state of a participant within one instance.
type ParticipantStatus string

const (
	ParticipantPending   ParticipantStatus = "pending"
	ParticipantActive    ParticipantStatus = "active"
	ParticipantCompleted ParticipantStatus = "completed"
	ParticipantLeft      ParticipantStatus = "left"
)

// NoQuestion is the cursor value before start and after completion.
const NoQuestion = -1

// QuestionRef points at a question within a template's ordered sequence.
type QuestionRef struct {
	UID      string `json:"uid"`
	Sequence int    `json:"sequence"`
}

// QuestionPayload is the closed set of question variants.
// Scoring dispatches on the concrete type; adding a variant must extend the
// scoring switch or submissions for it will be rejected.
type QuestionPayload interface {
	questionPayload()
}

// MultipleChoice carries parallel option/correctness arrays.
// Invariant: len(Options) == len(Correct).
type MultipleChoice struct {
	Options []string `json:"options"`
	Correct []bool   `json:"correct"`
}

func (MultipleChoice) questionPayload() {}

// CorrectSet returns the indices flagged correct, in ascending order.
func (m MultipleChoice) CorrectSet() []int {
	var out []int
	for i, ok := range m.Correct {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// Numeric carries the expected value and an acceptance window.
// Unit is display-only and never validated against submissions.
type Numeric struct {
	Value     float64 `json:"value"`
	Tolerance float64 `json:"tolerance,omitempty"`
	Unit      string  `json:"unit,omitempty"`
}

func (Numeric) questionPayload() {}

// Question is one catalog entry. TimeLimit of zero means untimed.
type Question struct {
	UID       string
	Text      string
	TimeLimit time.Duration
	Payload   QuestionPayload
}

// Answer is the closed set of submission variants, mirroring QuestionPayload.
type Answer interface {
	answer()
}

// ChoiceAnswer is a set of selected option indices.
type ChoiceAnswer struct {
	Selected []int `json:"selected"`
}

func (ChoiceAnswer) answer() {}

// NumericAnswer is a single submitted value.
type NumericAnswer struct {
	Value float64 `json:"value"`
}

func (NumericAnswer) answer() {}

// Settings is the per-instance scoring configuration. Zero values fall back
// to defaults at scoring time so instances persisted without settings keep
// working.
type Settings struct {
	// BasePoints awarded for a correct answer at t=0. Defaults to 1000.
	BasePoints int `json:"basePoints,omitempty"`
	// ScoreFloor is the minimum awarded for a correct answer on a timed
	// question, reached at t=timeLimit.
	ScoreFloor int `json:"scoreFloor,omitempty"`
	// DeferredWindow is how long a tournament stays playable after the live
	// phase ends. Zero disables deferred play.
	DeferredWindow time.Duration `json:"deferredWindow,omitempty"`
}

// DefaultBasePoints matches the historical flat score per question.
const DefaultBasePoints = 1000

// GameTemplate is an ordered collection of questions owned by its creator.
type GameTemplate struct {
	ID          string
	Name        string
	CreatorID   string
	DefaultMode PlayMode
	Questions   []QuestionRef
}

// GameInstance is one play of a template.
type GameInstance struct {
	ID         string
	TemplateID string
	CreatorID  string
	AccessCode string
	Status     InstanceStatus
	PlayMode   PlayMode
	// CurrentQuestion indexes the template's question sequence while the
	// instance is active, NoQuestion otherwise.
	CurrentQuestion int
	Settings        Settings
	DeferredFrom    time.Time
	DeferredTo      time.Time
	CreatedAt       time.Time
}

// DeferredOpen reports whether deferred submissions are accepted at now.
func (g GameInstance) DeferredOpen(now time.Time) bool {
	if g.DeferredFrom.IsZero() || g.DeferredTo.IsZero() {
		return false
	}
	return !now.Before(g.DeferredFrom) && !now.After(g.DeferredTo)
}

// GameParticipant is one user's membership in one game instance.
// Live and deferred scores are separate accumulators and are never merged.
type GameParticipant struct {
	ID             string
	GameInstanceID string
	UserID         string
	DisplayName    string
	Status         ParticipantStatus
	LiveScore      int
	DeferredScore  int
	// Attempts counts every submission, including rejected duplicates.
	Attempts int
	// AnsweredLive / AnsweredDeferred are the per-phase answered sets that
	// enforce exactly-once scoring.
	AnsweredLive     map[int]bool
	AnsweredDeferred map[int]bool
	JoinedAt         time.Time
	LastActiveAt     time.Time
	CompletedAt      *time.Time
}

// Clone returns a deep copy safe to hand off to persistence.
func (p GameParticipant) Clone() GameParticipant {
	out := p
	out.AnsweredLive = make(map[int]bool, len(p.AnsweredLive))
	for k, v := range p.AnsweredLive {
		out.AnsweredLive[k] = v
	}
	out.AnsweredDeferred = make(map[int]bool, len(p.AnsweredDeferred))
	for k, v := range p.AnsweredDeferred {
		out.AnsweredDeferred[k] = v
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// LeaderboardView selects which score accumulator a ranking is built from.
type LeaderboardView string

const (
	ViewLive     LeaderboardView = "live"
	ViewDeferred LeaderboardView = "deferred"
)

// ParticipantSummary is one leaderboard row.
type ParticipantSummary struct {
	ParticipantID string `json:"participantId"`
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// Leaderboard is a ranked snapshot of one view. It is a derived cache,
// recomputable from participant state at any time.
type Leaderboard struct {
	InstanceID string               `json:"instanceId"`
	View       LeaderboardView      `json:"view"`
	Entries    []ParticipantSummary `json:"entries"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// AnswerResult summarizes the outcome of one submission.
type AnswerResult struct {
	QuestionIndex int             `json:"questionIndex"`
	Correct       bool            `json:"correct"`
	PointsAwarded int             `json:"pointsAwarded"`
	TotalScore    int             `json:"totalScore"`
	View          LeaderboardView `json:"view"`
}
