package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

func TestGetIsSingleton(t *testing.T) {
	if Get() != Get() {
		t.Fatal("expected the same instance")
	}
}

func TestQueueCounters(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.enqueued.WithLabelValues("metrics-test", "voice"))
	m.RecordEnqueue("metrics-test", types.ChannelVoice, true)
	m.RecordEnqueue("metrics-test", types.ChannelVoice, false)
	if got := testutil.ToFloat64(m.enqueued.WithLabelValues("metrics-test", "voice")); got != before+2 {
		t.Errorf("expected %v enqueued, got %v", before+2, got)
	}

	m.RecordOverflow("metrics-test", types.OverflowVoicemail, true)
	if got := testutil.ToFloat64(m.overflowed.WithLabelValues("metrics-test", "voicemail", "true")); got < 1 {
		t.Errorf("expected overflow counted, got %v", got)
	}
}

func TestQueueGauges(t *testing.T) {
	m := Get()
	m.UpdateQueueStats([]types.QueueSnapshot{{Queue: "gauge-test", WaitingCount: 4, LongestWaitSecs: 12.5}})
	if got := testutil.ToFloat64(m.queueDepth.WithLabelValues("gauge-test")); got != 4 {
		t.Errorf("expected depth 4, got %v", got)
	}
	if got := testutil.ToFloat64(m.longestWait.WithLabelValues("gauge-test")); got != 12.5 {
		t.Errorf("expected longest wait 12.5, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := Get()
	m.RecordAssign("handler-test", types.StrategyRoundRobin, 3*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "contactcore_queue_assigned_total") {
		t.Error("expected assigned counter in output")
	}
}
