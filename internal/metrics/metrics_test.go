package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestServer_Records(t *testing.T) {
	m := NewServer("test")
	m.RecordRelayed("face", 2)
	m.RecordRelayed("face", 0)
	m.RecordSpeaking()
	m.RecordDropped("face", "backpressure")
	m.RecordSignal("join")
	m.RecordRequest(http.MethodGet, "/api/sessions/:id", 200, 3*time.Millisecond)
	m.MembersActive.Inc()

	body := scrape(t, m.Handler())
	assert.Contains(t, body, `test_data_frames_relayed_total{channel="face"} 2`)
	assert.Contains(t, body, `test_data_frames_dropped_total{channel="face",reason="backpressure"} 1`)
	assert.Contains(t, body, `test_signal_messages_total{type="join"} 1`)
	assert.Contains(t, body, `test_http_requests_total{method="GET",route="/api/sessions/:id",status="200"} 1`)
	assert.Contains(t, body, "test_members_active 1")
	assert.Contains(t, body, "test_speaking_transitions_total 1")
}

func TestClient_ReadsSourcesAtScrape(t *testing.T) {
	stats := BroadcastStats{}
	m := NewClient("c", ClientSources{
		Broadcast: func() BroadcastStats { return stats },
		Reconcile: func() ReconcileStats { return ReconcileStats{Participants: 3} },
	})
	stats.Published = 7

	body := scrape(t, m.Handler())
	assert.Contains(t, body, "c_face_states_published_total 7")
	assert.Contains(t, body, "c_participants 3")
	assert.NotContains(t, body, "c_inferences_total")
}
