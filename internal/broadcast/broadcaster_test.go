package broadcast

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	payload []byte
	opts    transport.PublishOptions
}

type fakeConn struct {
	sent []published
	err  error
}

func (c *fakeConn) LocalID() domain.ParticipantID { return "ana-1" }
func (c *fakeConn) Publish(p []byte, o transport.PublishOptions) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{payload: p, opts: o})
	return nil
}
func (c *fakeConn) SetMetadata(string) error { return nil }
func (c *fakeConn) PublishAudio(context.Context, transport.AudioSource) (transport.AudioPublication, error) {
	return nil, transport.ErrAudioUnsupported
}
func (c *fakeConn) Events() <-chan transport.Event { return nil }
func (c *fakeConn) Close() error                   { return nil }

type fakeSession struct {
	conn      *fakeConn
	connected bool
}

func (s *fakeSession) Outbound() (transport.Conn, domain.Identity, bool) {
	if !s.connected {
		return nil, domain.Identity{}, false
	}
	return s.conn, domain.Identity{ID: "ana-1", DisplayName: "Ana"}, true
}

func TestOnFaceState_PublishesUnreliable(t *testing.T) {
	conn := &fakeConn{}
	b := New(&fakeSession{conn: conn, connected: true})

	fs := domain.NewFaceState([]domain.Blendshape{{Category: "eyeBlinkLeft", Score: 0.9}}, domain.Rotation{})
	b.OnFaceState(fs)

	require.Len(t, conn.sent, 1)
	assert.False(t, conn.sent[0].opts.Reliable)
	assert.JSONEq(t, `{"kind":"face-data","senderId":"ana-1","displayName":"Ana",
		"blendshapes":[{"categoryName":"eyeBlinkLeft","score":0.9}],
		"rotation":{"x":0,"y":0,"z":0}}`, string(conn.sent[0].payload))
	assert.EqualValues(t, 1, b.Stats().Published)
}

func TestOnFaceState_DiscardsWhenDisconnected(t *testing.T) {
	conn := &fakeConn{}
	b := New(&fakeSession{conn: conn})

	b.OnFaceState(domain.NeutralFaceState())
	b.OnFaceState(domain.NeutralFaceState())

	assert.Empty(t, conn.sent)
	assert.EqualValues(t, 2, b.Stats().Discarded)
}

func TestOnFaceState_NoRetryOnFailure(t *testing.T) {
	conn := &fakeConn{err: errors.New("channel closing")}
	b := New(&fakeSession{conn: conn, connected: true})

	b.OnFaceState(domain.NeutralFaceState())
	conn.err = nil
	b.OnFaceState(domain.NeutralFaceState())

	assert.Len(t, conn.sent, 1)
	st := b.Stats()
	assert.EqualValues(t, 1, st.Failed)
	assert.EqualValues(t, 1, st.Published)
}
