// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pqckeys.
//
// go-pqckeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEnabled(t *testing.T) {
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled by default")
	}
	Disable()
	if IsEnabled() {
		t.Error("Expected metrics to be disabled after Disable()")
	}
	Enable()
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled after Enable()")
	}
}

func TestRecordOperation(t *testing.T) {
	Enable()
	OperationsTotal.Reset()
	OperationDuration.Reset()

	RecordOperation(OpGenerate, "pqc-sig", StatusSuccess, 0.5)
	RecordOperation(OpExport, "pqc-kem", StatusError, 0.1)

	if count := testutil.CollectAndCount(OperationsTotal); count != 2 {
		t.Errorf("Expected 2 operation series, got %d", count)
	}
	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpGenerate, "pqc-sig", StatusSuccess)); got != 1 {
		t.Errorf("Expected generate counter 1, got %v", got)
	}
}

func TestRecordOperationWhenDisabled(t *testing.T) {
	OperationsTotal.Reset()
	Disable()
	defer Enable()

	RecordOperation(OpGenerate, "classical", StatusSuccess, 0.5)
	if count := testutil.CollectAndCount(OperationsTotal); count != 0 {
		t.Errorf("Expected no operations recorded, got %d", count)
	}
}

func TestTrack(t *testing.T) {
	Enable()
	OperationsTotal.Reset()
	ErrorsTotal.Reset()

	errNotFound := errors.New("not found")
	classify := ClassifyBy(ErrorLabel{Err: errNotFound, Label: "not_found"})

	Track(OpImport, "pqc-kem", classify)(nil)
	Track(OpImport, "pqc-kem", classify)(errNotFound)
	Track(OpImport, "pqc-kem", classify)(errors.New("other"))
	Track(OpImport, "pqc-kem", nil)(errors.New("other"))

	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpImport, "pqc-kem", StatusSuccess)); got != 1 {
		t.Errorf("success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpImport, "pqc-kem", StatusError)); got != 3 {
		t.Errorf("error = %v, want 3", got)
	}
	for label, want := range map[string]float64{"not_found": 1, "internal": 1, "unknown": 1} {
		if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues(OpImport, "pqc-kem", label)); got != want {
			t.Errorf("errors{%s} = %v, want %v", label, got, want)
		}
	}
}

func TestGauges(t *testing.T) {
	Enable()
	KeysTotal.Reset()
	ContactsTotal.Reset()

	SetKeysTotal("classical", 3)
	SetContactsTotal("pqc-sig", 7)

	if got := testutil.ToFloat64(KeysTotal.WithLabelValues("classical")); got != 3 {
		t.Errorf("keys_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(ContactsTotal.WithLabelValues("pqc-sig")); got != 7 {
		t.Errorf("contacts_total = %v, want 7", got)
	}
}

func TestDistributionCounters(t *testing.T) {
	Enable()
	DistributionMessagesTotal.Reset()
	before := testutil.ToFloat64(RateLimitedTotal)

	RecordDistribution(DirectionOutbound, StatusSuccess)
	RecordDistribution(DirectionInbound, StatusError)
	RecordRateLimited()

	if got := testutil.ToFloat64(DistributionMessagesTotal.WithLabelValues(DirectionOutbound, StatusSuccess)); got != 1 {
		t.Errorf("outbound = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RateLimitedTotal) - before; got != 1 {
		t.Errorf("rate limited delta = %v, want 1", got)
	}
}

func TestCollectOnce(t *testing.T) {
	Enable()
	CollectOnce()
	if testutil.ToFloat64(Goroutines) <= 0 {
		t.Error("Expected goroutine gauge to be positive")
	}
	if testutil.ToFloat64(MemoryAllocBytes) <= 0 {
		t.Error("Expected heap gauge to be positive")
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	Enable()
	OperationsTotal.Reset()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordOperation(OpIngest, "pqc-sig", StatusSuccess, 0.001)
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpIngest, "pqc-sig", StatusSuccess)); got != 50 {
		t.Errorf("Expected 50 operations, got %v", got)
	}
}
