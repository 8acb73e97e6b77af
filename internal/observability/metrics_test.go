package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	before := counterValue(t, "sealwire_session_faults_total", map[string]string{"reason": "integrity"})
	RecordFault("integrity")
	RecordChunk("in", 512)
	RecordItem("message", "")
	RecordHandshake("initiator", 3*time.Millisecond, nil)
	RecordHandshake("responder", time.Millisecond, errors.New("boom"))
	PeerUp()
	PeerDown()

	after := counterValue(t, "sealwire_session_faults_total", map[string]string{"reason": "integrity"})
	if after != before+1 {
		t.Fatalf("fault counter: before=%v after=%v", before, after)
	}
}

func TestHandlerExposesSealwireMetrics(t *testing.T) {
	RecordChunk("out", 128)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "sealwire_transport_chunks_total") {
		t.Fatalf("metrics output missing chunk counter")
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf strings.Builder
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	h := RequestLogger(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/brew", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status passthrough: %d", rec.Code)
	}
	out := buf.String()
	if !strings.Contains(out, `"status":418`) || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("unexpected log line: %s", out)
	}
}
