// Package catalog is the read-only question lookup the engine scores
// against. Content management happens elsewhere; sessions only ever resolve
// question refs into payloads.
package catalog

import (
	"context"

	"mathquest/internal/domain"
)

// Loader fetches question content from a backing store (postgres, document
// DB, fixtures).
type Loader interface {
	LoadQuestion(ctx context.Context, uid string) (domain.Question, error)
}

// Catalog is the cached lookup handed to the session manager.
type Catalog interface {
	Question(ctx context.Context, uid string) (domain.Question, error)
}

// StaticLoader serves questions from an in-memory map (tests/demos).
type StaticLoader struct {
	questions map[string]domain.Question
}

func NewStaticLoader(questions map[string]domain.Question) *StaticLoader {
	return &StaticLoader{questions: questions}
}

func (l *StaticLoader) LoadQuestion(_ context.Context, uid string) (domain.Question, error) {
	if q, ok := l.questions[uid]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}
