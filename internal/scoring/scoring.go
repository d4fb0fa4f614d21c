// Package scoring holds the pure scoring strategy. It knows nothing about
// sessions or persistence: given a question, a submitted answer and timing
// information it decides correctness and points.
package scoring

import (
	"math"
	"sort"
	"time"

	"mathquest/internal/domain"
)

// Outcome is the result of evaluating one submission.
type Outcome struct {
	Correct bool
	Points  int
}

// Evaluate scores an answer against a question under the given settings.
// timeSpent is the server-side delta between question open and submission;
// pass zero when no timing information is available.
func Evaluate(q domain.Question, ans domain.Answer, cfg domain.Settings, timeSpent time.Duration) Outcome {
	if !Correct(q, ans) {
		return Outcome{}
	}
	return Outcome{Correct: true, Points: points(q, cfg, timeSpent)}
}

// Correct reports whether the answer matches the question. A submission whose
// variant does not match the question's variant is simply incorrect, not an
// error: clients sending the wrong shape lose the point.
func Correct(q domain.Question, ans domain.Answer) bool {
	switch payload := q.Payload.(type) {
	case domain.MultipleChoice:
		choice, ok := ans.(domain.ChoiceAnswer)
		if !ok {
			return false
		}
		return setsEqual(choice.Selected, payload.CorrectSet())
	case domain.Numeric:
		num, ok := ans.(domain.NumericAnswer)
		if !ok {
			return false
		}
		return math.Abs(num.Value-payload.Value) <= payload.Tolerance
	default:
		return false
	}
}

// points applies linear time decay: full base at t=0 down to the floor at
// t=timeLimit. Untimed questions always award the base.
func points(q domain.Question, cfg domain.Settings, timeSpent time.Duration) int {
	base := cfg.BasePoints
	if base <= 0 {
		base = domain.DefaultBasePoints
	}
	floor := cfg.ScoreFloor
	if floor < 0 {
		floor = 0
	}
	if floor > base {
		floor = base
	}
	if q.TimeLimit <= 0 || timeSpent <= 0 {
		return base
	}
	if timeSpent >= q.TimeLimit {
		return floor
	}
	decay := float64(base-floor) * float64(timeSpent) / float64(q.TimeLimit)
	return base - int(math.Round(decay))
}

// setsEqual compares two index sets regardless of order, ignoring duplicates
// on the submitted side. Both all and only the correct indices must be picked;
// there is no partial credit.
func setsEqual(submitted, correct []int) bool {
	dedup := make([]int, 0, len(submitted))
	seen := make(map[int]bool, len(submitted))
	for _, v := range submitted {
		if !seen[v] {
			seen[v] = true
			dedup = append(dedup, v)
		}
	}
	if len(dedup) != len(correct) {
		return false
	}
	sort.Ints(dedup)
	for i, v := range dedup {
		if v != correct[i] {
			return false
		}
	}
	return true
}
