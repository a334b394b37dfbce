package capture_test

import (
	"context"
	"testing"
	"time"

	"github.com/panda-fpga/pandad/internal/busstate"
	"github.com/panda-fpga/pandad/internal/capture"
	"github.com/panda-fpga/pandad/internal/hwaccess"
)

func TestArmPumpsStreamIntoRing(t *testing.T) {
	sim := hwaccess.NewSim()
	outputs := []busstate.RegisteredOutput{
		{Name: "COUNTER1.OUT", Info: busstate.NewCaptureInfo(busstate.CaptureUnscaled)},
	}
	plan, err := capture.BuildPlan(outputs, "Raw")
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	session, err := capture.Arm(ctx, sim, plan)
	if err != nil {
		t.Fatalf("arm: %v", err)
	}

	sample := make([]byte, plan.SampleBytes)
	sim.PushStreamData(sample)
	sim.PushStreamData(sample)
	sim.CloseStream(hwaccess.CompletionOk)

	if code := session.Completion(); code != hwaccess.CompletionOk {
		t.Fatalf("want CompletionOk, got %v", code)
	}
	if err := session.Err(); err != nil {
		t.Fatalf("unexpected reader error: %v", err)
	}
	if got := session.Samples(); got != 2 {
		t.Fatalf("want 2 samples pumped, got %d", got)
	}

	r := session.Ring.NewReader()
	// The two pushed samples were coalesced before Close(); since the
	// reader attached after the writes, it should simply see end-of-stream.
	if _, _, ok := r.Next(); ok {
		t.Fatalf("expected no further blocks for a reader attached after close")
	}
}

func TestSessionClientSlotBounding(t *testing.T) {
	sim := hwaccess.NewSim()
	outputs := []busstate.RegisteredOutput{
		{Name: "A.OUT", Info: busstate.NewCaptureInfo(busstate.CaptureUnscaled)},
	}
	plan, _ := capture.BuildPlan(outputs, "Raw")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	session, err := capture.Arm(ctx, sim, plan)
	if err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := session.AcquireClientSlot(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	session.ReleaseClientSlot()
	sim.CloseStream(hwaccess.CompletionOk)
	session.Completion()
}
