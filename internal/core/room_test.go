package core

import (
	"context"
	"sync"
	"testing"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/wire"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []Frame
	full   bool
}

func (s *fakeSignal) TrySend(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return ErrBackpressure
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSignal) Close() {}

type sent struct {
	label   string
	payload []byte
}

type fakeMedia struct {
	mu     sync.Mutex
	sent   []sent
	full   bool
	closed bool
}

func (m *fakeMedia) Start(context.Context) error                   { return nil }
func (m *fakeMedia) Close()                                        { m.closed = true }
func (m *fakeMedia) IsClosed() bool                                { return m.closed }
func (m *fakeMedia) AddICECandidate(webrtc.ICECandidateInit) error { return nil }
func (m *fakeMedia) ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{}, nil
}
func (m *fakeMedia) ApplyAnswer(webrtc.SessionDescription) error  { return nil }
func (m *fakeMedia) Renegotiate()                                 {}
func (m *fakeMedia) OnOffer(func(webrtc.SessionDescription))      {}
func (m *fakeMedia) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (m *fakeMedia) OnData(func(string, []byte))                  {}
func (m *fakeMedia) OnClosed(func())                              {}
func (m *fakeMedia) RemoveLocalTrack(*webrtc.RTPSender) error     { return nil }
func (m *fakeMedia) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
}
func (m *fakeMedia) AddLocalTrack(*webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	return nil, nil
}

func (m *fakeMedia) SendData(label string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return ErrBackpressure
	}
	m.sent = append(m.sent, sent{label, payload})
	return nil
}

func member(id, name string) (MemberSession, *fakeSignal, *fakeMedia) {
	sig, media := &fakeSignal{}, &fakeMedia{}
	ms := NewMemberSession(domain.NewMember(&domain.Identity{ID: domain.ParticipantID(id), DisplayName: name}))
	ms.UpdateSignal(sig).UpdateMedia(media)
	return ms, sig, media
}

func TestRoom_BroadcastSkipsSenderAndReportsDrops(t *testing.T) {
	r := NewRoomService(&domain.Room{ID: "r1"})
	a, sigA, _ := member("a", "Ana")
	b, sigB, _ := member("b", "Bo")
	c, sigC, _ := member("c", "Cy")
	sigC.full = true
	r.AddMember("a", a)
	r.AddMember("b", b)
	r.AddMember("c", c)

	res := r.Broadcast("a", Frame("hi"))
	assert.Equal(t, 1, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, c, res.Dropped[0])
	assert.Empty(t, sigA.frames)
	assert.Equal(t, []Frame{Frame("hi")}, sigB.frames)
}

func TestRoom_RelayWrapsSenderEnvelope(t *testing.T) {
	r := NewRoomService(&domain.Room{ID: "r1"})
	a, _, mediaA := member("a", "Ana")
	b, _, mediaB := member("b", "Bo")
	r.AddMember("a", a)
	r.AddMember("b", b)

	res := r.Relay("a", wire.LabelFace, []byte(`{"kind":"face-data"}`))
	assert.Equal(t, 1, res.SendTo)
	assert.Empty(t, mediaA.sent)
	require.Len(t, mediaB.sent, 1)
	assert.Equal(t, wire.LabelFace, mediaB.sent[0].label)

	sender, payload, err := wire.DecodeEnvelope(mediaB.sent[0].payload)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("a"), sender)
	assert.Equal(t, `{"kind":"face-data"}`, string(payload))
}

func TestRoom_RelayDropsOnBackpressureAndSkipsClosed(t *testing.T) {
	r := NewRoomService(&domain.Room{ID: "r1"})
	a, _, _ := member("a", "Ana")
	b, _, mediaB := member("b", "Bo")
	c, _, mediaC := member("c", "Cy")
	mediaB.full = true
	mediaC.closed = true
	r.AddMember("a", a)
	r.AddMember("b", b)
	r.AddMember("c", c)

	res := r.Relay("a", wire.LabelFace, []byte("x"))
	assert.Zero(t, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, b, res.Dropped[0])
	assert.Empty(t, mediaC.sent)
}

func TestRoom_RelayFromUnknownSender(t *testing.T) {
	r := NewRoomService(&domain.Room{ID: "r1"})
	b, _, mediaB := member("b", "Bo")
	r.AddMember("b", b)

	res := r.Relay("ghost", wire.LabelFace, []byte("x"))
	assert.Zero(t, res.SendTo)
	assert.Empty(t, mediaB.sent)
}

func TestRoom_MembersSnapshot(t *testing.T) {
	r := NewRoomService(&domain.Room{ID: "r1"})
	b, _, _ := member("b", "Bo")
	a, _, _ := member("a", "Ana")
	r.AddMember("b", b)
	r.AddMember("a", a)
	a.SetMetadata(`{"name":"Ana"}`)
	assert.True(t, b.SetSpeaking(true))
	assert.False(t, b.SetSpeaking(true))

	got := r.MembersSnapshot()
	assert.Equal(t, []MemberDTO{
		{ID: "a", Name: "Ana", Metadata: `{"name":"Ana"}`},
		{ID: "b", Name: "Bo", Speaking: true},
	}, got)

	r.RemoveMember("a")
	assert.Equal(t, 1, r.MemberCount())
}
