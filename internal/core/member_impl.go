package core

import (
	"sync"

	"github.com/dkeye/Mimic/internal/domain"
)

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	mu     sync.RWMutex
	meta   *domain.Member
	signal SignalConnection
	media  MediaConnection
}

func NewMemberSession(meta *domain.Member) MemberSession {
	return &memberSession{meta: meta}
}

func (m *memberSession) Meta() *domain.Member { return m.meta }

func (m *memberSession) DTO() MemberDTO {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return DTOOf(m.meta)
}

func (m *memberSession) SetMetadata(meta string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta.Metadata = meta
}

func (m *memberSession) SetSpeaking(speaking bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.meta.Speaking == speaking {
		return false
	}
	m.meta.Speaking = speaking
	return true
}

func (m *memberSession) Signal() SignalConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signal
}

func (m *memberSession) Media() MediaConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.media
}

func (m *memberSession) UpdateSignal(s SignalConnection) MemberSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signal = s
	return m
}

func (m *memberSession) UpdateMedia(mc MediaConnection) MemberSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media = mc
	return m
}
