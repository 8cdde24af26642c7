package observability_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/asyncjob/ext"
	"github.com/xraph/asyncjob/job"
	"github.com/xraph/asyncjob/observability"
	"github.com/xraph/asyncjob/orchestrator"
	"github.com/xraph/asyncjob/store/memory"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func sumByStatus(rm metricdata.ResourceMetrics, name string) map[string]int64 {
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				out[status.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestMetricsExtension_Name(t *testing.T) {
	if got := observability.NewMetricsExtension().Name(); got != "observability-metrics" {
		t.Errorf("Name = %q", got)
	}
}

func TestMetricsExtension_CountsLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	reg := ext.NewRegistry(nil)
	reg.Register(observability.NewMetricsExtensionWithMeter(mp.Meter("test")))

	o, err := orchestrator.New(memory.New(), orchestrator.WithExtensions(reg))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	done, _ := o.Create(ctx, job.TypePDFAnalysis)
	_, _ = o.StartProcessing(ctx, done, "")
	time.Sleep(5 * time.Millisecond)
	_, _ = o.Complete(ctx, done, nil)

	failed, _ := o.Create(ctx, job.TypePDFAnalysis)
	_, _ = o.Fail(ctx, failed, "unreadable")

	expired, _ := o.Create(ctx, job.TypeBulkImport)
	_, _ = o.Timeout(ctx, expired)
	// Lost race: no second transition is counted.
	_, _ = o.Fail(ctx, expired, "late")

	rm := collect(t, reader)

	got := sumByStatus(rm, "asyncjob.job.transitions")
	want := map[string]int64{"processing": 1, "completed": 1, "failed": 1, "timeout": 1}
	for status, n := range want {
		if got[status] != n {
			t.Errorf("transitions[%s] = %d, want %d", status, got[status], n)
		}
	}
	if len(got) != len(want) {
		t.Errorf("unexpected statuses counted: %v", got)
	}

	var created int64
	var durations uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "asyncjob.job.created":
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					created += dp.Value
				}
			case "asyncjob.job.run_duration":
				for _, dp := range m.Data.(metricdata.Histogram[float64]).DataPoints {
					durations += dp.Count
				}
			}
		}
	}
	if created != 3 {
		t.Errorf("created = %d, want 3", created)
	}
	if durations != 1 {
		t.Errorf("run_duration samples = %d, want 1", durations)
	}
}
