package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func histogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordEnrichment_SkippedIsNotTimed(t *testing.T) {
	skipped := EnrichmentTotal.WithLabelValues("skipped")
	before, observed := counterValue(t, skipped), histogramCount(t, EnrichmentDuration)

	RecordEnrichment("skipped", 0)
	if got := counterValue(t, skipped) - before; got != 1 {
		t.Errorf("skipped delta = %v, want 1", got)
	}
	if histogramCount(t, EnrichmentDuration) != observed {
		t.Error("skipped run should not be observed")
	}

	RecordEnrichment("success", 1.5)
	if histogramCount(t, EnrichmentDuration) != observed+1 {
		t.Error("successful run should be observed")
	}
}

func TestRecordTranscription(t *testing.T) {
	c := TranscriptionsTotal.WithLabelValues("batch", "failed")
	before := counterValue(t, c)
	RecordTranscription("batch", "failed")
	if got := counterValue(t, c) - before; got != 1 {
		t.Errorf("delta = %v, want 1", got)
	}
}

func TestHandler_ExposesNamespace(t *testing.T) {
	RecordThreadCreated()
	RecordNoteCreated("text")

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, name := range []string{"threadnote_threads_created_total", `threadnote_notes_created_total{type="text"}`} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("missing %s", name)
		}
	}
}
