package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestAuthorizationMetricsExportsOutcomesAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewAuthorizationMetrics(reg)

	metrics.Observe("activate", "", 250*time.Millisecond)
	metrics.Observe("activate", "DEVICE_LIMIT", 10*time.Millisecond)
	metrics.Observe("activate", "DEVICE_LIMIT", 10*time.Millisecond)
	metrics.IncUsageFailure()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "licensegate_authorization_outcomes_total", "outcome", "GRANTED"); err != nil {
		t.Fatalf("fetch granted: %v", err)
	} else if got != 1 {
		t.Fatalf("expected granted=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "licensegate_authorization_outcomes_total", "outcome", "DEVICE_LIMIT"); err != nil {
		t.Fatalf("fetch device limit: %v", err)
	} else if got != 2 {
		t.Fatalf("expected device_limit=2, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "licensegate_authorization_duration_seconds", "operation", "activate"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}

	mf := findMetricFamily(mfs, "licensegate_usage_write_failures_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one usage write failure")
	}
}

func TestAuthorizationMetricsNilSafe(t *testing.T) {
	var nilMetrics *AuthorizationMetrics
	nilMetrics.Observe("renew", "", time.Second)
	nilMetrics.IncUsageFailure()

	unregistered := NewAuthorizationMetrics(nil)
	unregistered.Observe("renew", "", time.Second)
	unregistered.IncUsageFailure()
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
