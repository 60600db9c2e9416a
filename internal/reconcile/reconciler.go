// Package reconcile folds membership events, speaking indicators and lossy
// face-data messages into one participant map per client.
package reconcile

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/wire"
	"github.com/rs/zerolog/log"
)

var (
	ErrSelfEcho = errors.New("message from local participant")
	ErrDeparted = errors.New("message from departed participant")
)

type Stats struct {
	Applied         uint64
	Undecodable     uint64
	SelfEcho        uint64
	Departed        uint64
	SpeakingDropped uint64
}

// Reconciler owns the participant map. Writers serialize on a mutex;
// readers load the current Snapshot without locking.
type Reconciler struct {
	mu       sync.Mutex
	local    domain.ParticipantID
	departed *departures
	receipts uint64

	snap atomic.Pointer[Snapshot]

	applied, undecodable, selfEcho, departedDrops, speakingDrops atomic.Uint64
}

func New() *Reconciler { return NewWithLimit(DefaultMaxDeparted) }

// NewWithLimit bounds the remembered departures to maxDeparted ids. Face
// data from an id forgotten this way recreates its entry.
func NewWithLimit(maxDeparted int) *Reconciler {
	r := &Reconciler{departed: newDepartures(maxDeparted)}
	r.snap.Store(emptySnapshot)
	return r
}

func (r *Reconciler) Snapshot() *Snapshot { return r.snap.Load() }

func (r *Reconciler) Stats() Stats {
	return Stats{
		Applied:         r.applied.Load(),
		Undecodable:     r.undecodable.Load(),
		SelfEcho:        r.selfEcho.Load(),
		Departed:        r.departedDrops.Load(),
		SpeakingDropped: r.speakingDrops.Load(),
	}
}

// update publishes the map returned by fn as the next Snapshot. fn returns
// false to leave the current Snapshot in place. Callers hold r.mu.
func (r *Reconciler) update(fn func(m map[domain.ParticipantID]domain.Participant) bool) {
	cur := r.snap.Load()
	next := cur.clone()
	if !fn(next) {
		return
	}
	r.snap.Store(&Snapshot{version: cur.version + 1, participants: next})
}

func placeholder(name string, id domain.ParticipantID) bool {
	return name == "" || name == string(id)
}

// SetLocal registers the local participant. Its entry is never touched by
// remote messages.
func (r *Reconciler) SetLocal(id domain.ParticipantID, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = id
	if displayName == "" {
		displayName = string(id)
	}
	r.update(func(m map[domain.ParticipantID]domain.Participant) bool {
		p := m[id]
		p.ID = id
		p.DisplayName = displayName
		p.IsLocal = true
		m[id] = p
		return true
	})
}

// ApplyLocal records the latest locally captured FaceState.
func (r *Reconciler) ApplyLocal(fs domain.FaceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local == "" {
		return
	}
	r.receipts++
	n := r.receipts
	r.update(func(m map[domain.ParticipantID]domain.Participant) bool {
		p, ok := m[r.local]
		if !ok {
			return false
		}
		p.Face = fs
		p.LastUpdated = n
		m[r.local] = p
		return true
	})
}

// HandleJoined inserts a neutral entry named from metadata, falling back to
// the transport identity. An entry created earlier by a racing face-data
// message keeps its face and takes the announced name if there is one.
func (r *Reconciler) HandleJoined(id domain.ParticipantID, metadata string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == r.local {
		return
	}
	r.departed.remove(id)

	name, announced := wire.NameFromMetadata(metadata)
	r.update(func(m map[domain.ParticipantID]domain.Participant) bool {
		p, ok := m[id]
		if !ok {
			if !announced {
				name = string(id)
			}
			m[id] = domain.Participant{ID: id, DisplayName: name, Face: domain.NeutralFaceState()}
			return true
		}
		if !announced || placeholder(name, id) {
			return false
		}
		p.DisplayName = name
		m[id] = p
		return true
	})
	log.Debug().Str("module", "reconcile").Str("participant", string(id)).Msg("joined")
}

// HandleLeft removes the entry unconditionally. Face data arriving later
// for this id is dropped until it joins again.
func (r *Reconciler) HandleLeft(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" || id == r.local {
		return
	}
	r.departed.add(id)
	r.update(func(m map[domain.ParticipantID]domain.Participant) bool {
		if _, ok := m[id]; !ok {
			return false
		}
		delete(m, id)
		return true
	})
	log.Debug().Str("module", "reconcile").Str("participant", string(id)).Msg("left")
}

// HandleSpeaking updates only the speaking flag of an existing entry.
func (r *Reconciler) HandleSpeaking(id domain.ParticipantID, speaking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.update(func(m map[domain.ParticipantID]domain.Participant) bool {
		p, ok := m[id]
		if !ok {
			r.speakingDrops.Add(1)
			return false
		}
		if p.IsSpeaking == speaking {
			return false
		}
		p.IsSpeaking = speaking
		m[id] = p
		return true
	})
}

// HandleMetadata applies a later name announcement to an existing entry.
func (r *Reconciler) HandleMetadata(id domain.ParticipantID, metadata string) {
	name, ok := wire.NameFromMetadata(metadata)
	if !ok || placeholder(name, id) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == r.local {
		return
	}
	r.update(func(m map[domain.ParticipantID]domain.Participant) bool {
		p, ok := m[id]
		if !ok || p.DisplayName == name {
			return false
		}
		p.DisplayName = name
		m[id] = p
		return true
	})
}

// HandleData decodes and upserts one face-data payload. Every returned error
// means the message was dropped; none of them are fatal.
func (r *Reconciler) HandleData(payload []byte) error {
	msg, err := wire.Decode(payload)
	if err != nil {
		r.undecodable.Add(1)
		log.Debug().Err(err).Str("module", "reconcile").Int("bytes", len(payload)).Msg("undecodable message dropped")
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := msg.SenderID
	if id == r.local {
		r.selfEcho.Add(1)
		return ErrSelfEcho
	}
	if r.departed.has(id) {
		r.departedDrops.Add(1)
		return ErrDeparted
	}

	r.receipts++
	n := r.receipts
	r.update(func(m map[domain.ParticipantID]domain.Participant) bool {
		p, ok := m[id]
		if !ok {
			p = domain.Participant{ID: id, DisplayName: string(id)}
		}
		if !placeholder(msg.DisplayName, id) {
			p.DisplayName = msg.DisplayName
		}
		p.Face = msg.Face
		p.LastUpdated = n
		m[id] = p
		return true
	})
	r.applied.Add(1)
	return nil
}

// Reset empties the map, forgets departures and the local identity.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = ""
	r.departed.reset()
	cur := r.snap.Load()
	if cur.Len() == 0 {
		return
	}
	r.snap.Store(&Snapshot{version: cur.version + 1, participants: map[domain.ParticipantID]domain.Participant{}})
}
