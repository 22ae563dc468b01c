// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValue reads the current value of a counter child.
func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordSyncRunIncrementsCounters(t *testing.T) {
	before := counterValue(t, SyncRunsTotal.WithLabelValues("products", "both", "completed"))

	RecordSyncRun("products", "both", "completed", 3*time.Second)

	after := counterValue(t, SyncRunsTotal.WithLabelValues("products", "both", "completed"))
	if after != before+1 {
		t.Errorf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordSyncRunSetsLastSuccessOnlyForCompleted(t *testing.T) {
	g := SyncLastSuccess.WithLabelValues("offers")
	g.Set(0)

	RecordSyncRun("offers", "primary", "partial", time.Second)

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	if m.GetGauge().GetValue() != 0 {
		t.Error("partial run should not update last-success timestamp")
	}

	RecordSyncRun("offers", "primary", "completed", time.Second)

	if err := g.Write(m); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	if m.GetGauge().GetValue() == 0 {
		t.Error("completed run should update last-success timestamp")
	}
}

func TestPageCountersAreIndependentPerAccount(t *testing.T) {
	p := counterValue(t, PagesFetched.WithLabelValues("primary", "products"))
	PagesFetched.WithLabelValues("primary", "products").Inc()

	s := counterValue(t, PagesFetched.WithLabelValues("secondary", "products"))
	if got := counterValue(t, PagesFetched.WithLabelValues("primary", "products")); got != p+1 {
		t.Errorf("primary counter: expected %v, got %v", p+1, got)
	}
	if got := counterValue(t, PagesFetched.WithLabelValues("secondary", "products")); got != s {
		t.Errorf("secondary counter should be unaffected, got %v", got)
	}
}
