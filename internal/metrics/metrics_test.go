package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.Login("success")
	m.Refresh("revoked")
	m.Authorize("denied")
	m.Revocation("token", false)
	m.Lockout()
	m.StoreError("redis")
	m.Alert("revoke")
	m.Since("login", time.Now())
	if err := m.WatchAuditDrops(func() uint64 { return 1 }); err != nil {
		t.Fatalf("watch on nil: %v", err)
	}
}

func TestCountersAndRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	m.Login("success")
	m.Login("success")
	m.Login("invalid_credentials")
	m.Revocation("token", true)
	m.Lockout()

	if got := testutil.ToFloat64(m.logins.WithLabelValues("success")); got != 2 {
		t.Fatalf("expected 2 successful logins, got %v", got)
	}
	if got := testutil.ToFloat64(m.lockouts); got != 1 {
		t.Fatalf("expected 1 lockout, got %v", got)
	}

	dropped := uint64(0)
	if err := m.WatchAuditDrops(func() uint64 { return dropped }); err != nil {
		t.Fatalf("watch: %v", err)
	}
	dropped = 4
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "credgate_loginlog_dropped_total" {
			found = true
			if v := f.GetMetric()[0].GetCounter().GetValue(); v != 4 {
				t.Fatalf("expected 4 drops, got %v", v)
			}
		}
	}
	if !found {
		t.Fatal("drop counter not registered")
	}

	if _, err := New(reg); err == nil {
		t.Fatal("second registration on the same registry must fail")
	}
}
