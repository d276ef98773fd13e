package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilSetIsSafe(t *testing.T) {
	var s *Set
	s.CycleRun()
	s.CycleSkipped()
	s.Dispatch("alert", nil)
	s.Dispatch("alert", errors.New("boom"))
	s.Deferred()
	s.SweepDelivered()
	s.SweepExpired()
	s.FetchFailure()
	s.PendingDepth(3)
}

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)
	s.CycleRun()
	s.Dispatch("alert", nil)
	s.PendingDepth(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}
