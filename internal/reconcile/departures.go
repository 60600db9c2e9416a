package reconcile

import "github.com/dkeye/Mimic/internal/domain"

// DefaultMaxDeparted bounds how many departed ids are remembered.
const DefaultMaxDeparted = 256

type departure struct {
	id  domain.ParticipantID
	seq uint64
}

// departures remembers the most recent departed ids in leave order. The
// oldest is forgotten once more than max are held.
type departures struct {
	max   int
	seq   uint64
	ids   map[domain.ParticipantID]uint64
	order []departure
}

func newDepartures(max int) *departures {
	if max <= 0 {
		max = DefaultMaxDeparted
	}
	return &departures{max: max, ids: make(map[domain.ParticipantID]uint64)}
}

func (d *departures) add(id domain.ParticipantID) {
	d.seq++
	d.ids[id] = d.seq
	d.order = append(d.order, departure{id: id, seq: d.seq})
	for len(d.ids) > d.max {
		old := d.order[0]
		d.order = d.order[1:]
		if d.ids[old.id] == old.seq {
			delete(d.ids, old.id)
		}
	}
	// superseded entries accumulate when ids leave twice or rejoin
	if len(d.order) > 2*d.max {
		d.compact()
	}
}

func (d *departures) remove(id domain.ParticipantID) { delete(d.ids, id) }

func (d *departures) has(id domain.ParticipantID) bool {
	_, ok := d.ids[id]
	return ok
}

func (d *departures) len() int { return len(d.ids) }

func (d *departures) compact() {
	live := make([]departure, 0, len(d.ids))
	for _, e := range d.order {
		if d.ids[e.id] == e.seq {
			live = append(live, e)
		}
	}
	d.order = live
}

func (d *departures) reset() {
	d.ids = make(map[domain.ParticipantID]uint64)
	d.order = nil
}
