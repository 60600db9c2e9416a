package reconcile

import (
	"sort"

	"github.com/dkeye/Mimic/internal/domain"
)

// Snapshot is an immutable view of the participant map. A new Snapshot is
// published for every change; readers never see a partial update.
type Snapshot struct {
	version      uint64
	participants map[domain.ParticipantID]domain.Participant
}

var emptySnapshot = &Snapshot{participants: map[domain.ParticipantID]domain.Participant{}}

func (s *Snapshot) Version() uint64 { return s.version }

func (s *Snapshot) Len() int { return len(s.participants) }

func (s *Snapshot) Get(id domain.ParticipantID) (domain.Participant, bool) {
	p, ok := s.participants[id]
	return p, ok
}

// Participants returns entries with the local one first, the rest by id.
func (s *Snapshot) Participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsLocal != out[j].IsLocal {
			return out[i].IsLocal
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remote returns only non-local entries, ordered by id.
func (s *Snapshot) Remote() []domain.Participant {
	all := s.Participants()
	out := all[:0]
	for _, p := range all {
		if !p.IsLocal {
			out = append(out, p)
		}
	}
	return out
}

// mutable copy for the next version
func (s *Snapshot) clone() map[domain.ParticipantID]domain.Participant {
	m := make(map[domain.ParticipantID]domain.Participant, len(s.participants)+1)
	for k, v := range s.participants {
		m[k] = v
	}
	return m
}
