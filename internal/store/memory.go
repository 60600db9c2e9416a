// Package store keeps session and participant membership records for the
// room server.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionInactive     = errors.New("session is not active")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrTokenNotFound       = errors.New("unknown token")
)

// Participant is one membership record. The token authenticates the
// participant's signalling connection.
type Participant struct {
	ID        domain.ParticipantID `json:"participant_id"`
	SessionID domain.RoomID        `json:"session_id"`
	Name      string               `json:"name"`
	Token     string               `json:"-"`
	JoinedAt  time.Time            `json:"joined_at"`
}

type Store struct {
	mu           sync.RWMutex
	sessions     map[domain.RoomID]*domain.Room
	participants map[domain.ParticipantID]*Participant
	tokens       map[string]domain.ParticipantID
	now          func() time.Time
}

func NewMemory() *Store {
	return &Store{
		sessions:     make(map[domain.RoomID]*domain.Room),
		participants: make(map[domain.ParticipantID]*Participant),
		tokens:       make(map[string]domain.ParticipantID),
		now:          time.Now,
	}
}

func (s *Store) CreateSession(name string) (domain.Room, error) {
	if err := domain.ValidateDisplayName(name); err != nil {
		return domain.Room{}, err
	}
	room := &domain.Room{
		ID:        domain.RoomID(uuid.NewString()),
		Name:      domain.RoomName(name),
		CreatedAt: s.now(),
		Active:    true,
	}
	s.mu.Lock()
	s.sessions[room.ID] = room
	s.mu.Unlock()
	log.Info().Str("module", "store").Str("room", string(room.ID)).Str("name", name).Msg("session created")
	return *room, nil
}

func (s *Store) GetSession(id domain.RoomID) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.sessions[id]
	if !ok {
		return domain.Room{}, ErrSessionNotFound
	}
	return *room, nil
}

// EndSession marks the session inactive and returns the participants that
// were still joined so callers can evict their connections.
func (s *Store) EndSession(id domain.RoomID) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	room.Active = false
	var evicted []Participant
	for pid, p := range s.participants {
		if p.SessionID != id {
			continue
		}
		evicted = append(evicted, *p)
		delete(s.tokens, p.Token)
		delete(s.participants, pid)
	}
	sortByJoin(evicted)
	log.Info().Str("module", "store").Str("room", string(id)).Int("evicted", len(evicted)).Msg("session ended")
	return evicted, nil
}

func (s *Store) JoinSession(id domain.RoomID, displayName string) (Participant, error) {
	if err := domain.ValidateDisplayName(displayName); err != nil {
		return Participant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.sessions[id]
	if !ok {
		return Participant{}, ErrSessionNotFound
	}
	if !room.Active {
		return Participant{}, ErrSessionInactive
	}
	p := &Participant{
		ID:        domain.ParticipantID(uuid.NewString()),
		SessionID: id,
		Name:      displayName,
		Token:     uuid.NewString(),
		JoinedAt:  s.now(),
	}
	s.participants[p.ID] = p
	s.tokens[p.Token] = p.ID
	log.Info().Str("module", "store").Str("room", string(id)).Str("participant", string(p.ID)).Msg("participant joined")
	return *p, nil
}

func (s *Store) LeaveSession(pid domain.ParticipantID) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[pid]
	if !ok {
		return Participant{}, ErrParticipantNotFound
	}
	delete(s.tokens, p.Token)
	delete(s.participants, pid)
	log.Info().Str("module", "store").Str("room", string(p.SessionID)).Str("participant", string(pid)).Msg("participant left")
	return *p, nil
}

func (s *Store) ListParticipants(id domain.RoomID) ([]Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[id]; !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]Participant, 0)
	for _, p := range s.participants {
		if p.SessionID == id {
			out = append(out, *p)
		}
	}
	sortByJoin(out)
	return out, nil
}

// ByToken resolves a signalling token to its participant and session.
func (s *Store) ByToken(token string) (Participant, domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.tokens[token]
	if !ok {
		return Participant{}, domain.Room{}, ErrTokenNotFound
	}
	p := s.participants[pid]
	room := s.sessions[p.SessionID]
	if !room.Active {
		return Participant{}, domain.Room{}, ErrSessionInactive
	}
	return *p, *room, nil
}

func sortByJoin(ps []Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].JoinedAt.Before(ps[j].JoinedAt)
	})
}
