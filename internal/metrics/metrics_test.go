package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterTwiceIsTolerated(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}

func TestObserveTranslationNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(translationsTotal.WithLabelValues(OutcomeError))
	ObserveTranslation(-time.Second, "bogus")
	after := testutil.ToFloat64(translationsTotal.WithLabelValues(OutcomeError))
	if after-before != 1 {
		t.Fatalf("expected unknown outcome to count as error, delta %v", after-before)
	}
}

func TestObserveEvent(t *testing.T) {
	ObserveEvent("heatwave", "opened")
	if got := testutil.ToFloat64(anomalyEventsTotal.WithLabelValues("heatwave", "opened")); got < 1 {
		t.Fatalf("expected opened counter to increase, got %v", got)
	}
}
