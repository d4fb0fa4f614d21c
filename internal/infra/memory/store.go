// Package memory provides the in-process Store used by tests, demos and
// single-node deployments without postgres.
package memory

import (
	"context"
	"sync"

	"mathquest/internal/domain"
)

// Store keeps instances, participants and template sequences in maps. All
// methods are safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	instances    map[string]domain.GameInstance
	byCode       map[string]string
	participants map[string]map[string]domain.GameParticipant
	templates    map[string][]domain.QuestionRef
}

func NewStore() *Store {
	return &Store{
		instances:    make(map[string]domain.GameInstance),
		byCode:       make(map[string]string),
		participants: make(map[string]map[string]domain.GameParticipant),
		templates:    make(map[string][]domain.QuestionRef),
	}
}

// SeedTemplate registers a template's ordered question sequence.
func (s *Store) SeedTemplate(templateID string, refs []domain.QuestionRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[templateID] = append([]domain.QuestionRef(nil), refs...)
}

func (s *Store) LoadGameInstance(_ context.Context, id string) (domain.GameInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, ok := s.instances[id]
	if !ok {
		return domain.GameInstance{}, domain.ErrSessionNotFound
	}
	return instance, nil
}

func (s *Store) LoadGameInstanceByCode(_ context.Context, accessCode string) (domain.GameInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[accessCode]
	if !ok {
		return domain.GameInstance{}, domain.ErrSessionNotFound
	}
	return s.instances[id], nil
}

func (s *Store) SaveGameInstance(_ context.Context, instance domain.GameInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance.ID] = instance
	s.byCode[instance.AccessCode] = instance.ID
	return nil
}

func (s *Store) LoadParticipants(_ context.Context, gameInstanceID string) ([]domain.GameParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.participants[gameInstanceID]
	out := make([]domain.GameParticipant, 0, len(byID))
	for _, p := range byID {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *Store) SaveParticipant(_ context.Context, participant domain.GameParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.participants[participant.GameInstanceID]
	if !ok {
		byID = make(map[string]domain.GameParticipant)
		s.participants[participant.GameInstanceID] = byID
	}
	byID[participant.ID] = participant.Clone()
	return nil
}

func (s *Store) LoadTemplateQuestions(_ context.Context, templateID string) ([]domain.QuestionRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs, ok := s.templates[templateID]
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	return append([]domain.QuestionRef(nil), refs...), nil
}
