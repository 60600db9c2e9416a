package sfu

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/dkeye/Mimic/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// PacketSource is the read side of a remote track.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, error)
}

type remoteSource struct{ t *webrtc.TrackRemote }

func (s remoteSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.t.ReadRTP()
	return pkt, err
}

// TrackSource adapts a pion remote track.
func TrackSource(t *webrtc.TrackRemote) PacketSource { return remoteSource{t} }

type Relay struct {
	Src   PacketSource
	Codec webrtc.RTPCodecCapability

	mu        sync.RWMutex
	outTracks map[core.SessionID]*OutTrack

	levelExt   uint8
	detector   *SpeakingDetector
	onSpeaking func(bool)
	now        func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(src PacketSource, codec webrtc.RTPCodecCapability, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:       src,
		Codec:     codec,
		outTracks: make(map[core.SessionID]*OutTrack),
		now:       time.Now,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	defer r.stopSpeaking()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			r.markAllDelete()
			return
		}
		r.observeLevel(pkt)
		r.forward(pkt, logger)
	}
}

func (r *Relay) observeLevel(pkt *rtp.Packet) {
	if r.detector == nil {
		return
	}
	level, ok := AudioLevel(pkt, r.levelExt)
	if !ok {
		return
	}
	if changed, speaking := r.detector.Observe(level, r.now()); changed && r.onSpeaking != nil {
		r.onSpeaking(speaking)
	}
}

func (r *Relay) stopSpeaking() {
	if r.detector != nil && r.detector.Speaking() && r.onSpeaking != nil {
		r.onSpeaking(false)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	dirty := make([]core.SessionID, 0, len(snapshot))
	for dstSID, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dstSID)
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("dst_sid", string(dstSID)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dstSID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sid := range dirty {
		if ot, ok := r.outTracks[sid]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, sid)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(dst core.SessionID, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[dst] = ot
}

func (r *Relay) removeOutTrack(dst core.SessionID) (*OutTrack, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ot, ok := r.outTracks[dst]
	if ok {
		ot.MarkDelete()
		delete(r.outTracks, dst)
	}
	return ot, ok
}

func (r *Relay) drain() map[core.SessionID]*OutTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.outTracks
	for _, ot := range out {
		ot.MarkDelete()
	}
	r.outTracks = make(map[core.SessionID]*OutTrack)
	return out
}
