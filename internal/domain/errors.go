package domain

import "errors"

var (
	// ErrInvalidTransition is returned when a lifecycle operation is applied
	// in a state that does not allow it.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrStaleQuestion is returned when a live submission targets a question
	// other than the session's current one.
	ErrStaleQuestion = errors.New("question is not the current one")
	// ErrDuplicateAnswer is returned on a second submission for an already
	// scored (participant, question) pair.
	ErrDuplicateAnswer = errors.New("answer already recorded")
	// ErrSessionClosed is returned when acting on a completed session outside
	// its deferred window, or on a completed participant.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionNotFound is returned for unknown access codes or session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTemplateNotFound indicates the game template could not be loaded.
	ErrTemplateNotFound = errors.New("game template not found")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuestionNotFound indicates a question uid missing from the catalog,
	// or a question index outside the template's sequence.
	ErrQuestionNotFound = errors.New("question not found")
)
