package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/xraph/asyncjob/middleware"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func stringAttrs(set attribute.Set) map[string]string {
	out := make(map[string]string)
	for _, kv := range set.ToSlice() {
		if kv.Value.Type() == attribute.STRING {
			out[string(kv.Key)] = kv.Value.AsString()
		}
	}
	return out
}

func TestMetrics_RecordsSuccess(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	h := mw.MetricsWithMeter(mp.Meter("test"))

	if err := h(context.Background(), newTestMessage(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collect(t, reader)

	dur := findMetric(rm, "asyncjob.handler.duration")
	if dur == nil {
		t.Fatal("asyncjob.handler.duration not recorded")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("unexpected duration data: %+v", dur.Data)
	}

	exec := findMetric(rm, "asyncjob.handler.executions")
	if exec == nil {
		t.Fatal("asyncjob.handler.executions not recorded")
	}
	sum, ok := exec.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected executions data: %+v", exec.Data)
	}

	want := map[string]string{"type": "resume_analysis", "queue": "default", "status": "ok"}
	for _, set := range []attribute.Set{hist.DataPoints[0].Attributes, sum.DataPoints[0].Attributes} {
		got := stringAttrs(set)
		for k, v := range want {
			if got[k] != v {
				t.Errorf("attribute %q = %q, want %q", k, got[k], v)
			}
		}
	}
}

func TestMetrics_RecordsErrorStatus(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	h := mw.MetricsWithMeter(mp.Meter("test"))

	boom := errors.New("boom")
	if err := h(context.Background(), newTestMessage(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}

	exec := findMetric(collect(t, reader), "asyncjob.handler.executions")
	if exec == nil {
		t.Fatal("asyncjob.handler.executions not recorded")
	}
	sum := exec.Data.(metricdata.Sum[int64])
	if got := stringAttrs(sum.DataPoints[0].Attributes)["status"]; got != "error" {
		t.Errorf("status = %q, want error", got)
	}
}

func TestMetrics_GlobalNoopProvider(t *testing.T) {
	called := false
	err := mw.Metrics()(context.Background(), newTestMessage(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}
