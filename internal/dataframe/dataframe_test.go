package dataframe

import (
	"sync"
	"testing"
	"time"
)

func TestProcessFrame_AppendEnforcesOrder(t *testing.T) {
	df := NewFrames()
	pf := df.AddProcess(42)

	if !pf.Append(&Step{Interval: 0, Injected: 1, Activity: 2, Sampled: true}) {
		t.Fatalf("expected first append to succeed")
	}
	if pf.Append(&Step{Interval: 2, Injected: 1, Activity: 2, Sampled: true}) {
		t.Fatalf("expected out-of-order append to be rejected")
	}
	if pf.Append(&Step{Interval: 0}) {
		t.Fatalf("expected duplicate append to be rejected")
	}
	if !pf.Append(&Step{Interval: 1, Injected: 0, Sampled: false}) {
		t.Fatalf("expected second append to succeed")
	}
	if pf.Len() != 2 {
		t.Fatalf("expected 2 steps, got %d", pf.Len())
	}
	if pf.Gaps() != 1 {
		t.Fatalf("expected 1 gap, got %d", pf.Gaps())
	}
	if steps := pf.GetAllSteps(); steps[1].Interval != 1 || steps[1].Sampled {
		t.Fatalf("unexpected last step %+v", steps[1])
	}
}

func TestFrames_AddProcessIsIdempotent(t *testing.T) {
	df := NewFrames()
	a := df.AddProcess(7)
	a.Append(&Step{Interval: 0, Sampled: true})
	b := df.AddProcess(7)
	if a != b {
		t.Fatalf("expected same frame for repeated AddProcess")
	}
	df.AddProcess(3)
	if all := df.GetAllProcesses(); len(all) != 2 || all[7] != a || df.GetProcess(7).Len() != 1 {
		t.Fatalf("unexpected processes %v", all)
	}
}

func TestProcessFrame_GetAllStepsReturnsCopy(t *testing.T) {
	pf := NewFrames().AddProcess(1)
	pf.Append(&Step{Interval: 0, Timestamp: time.Unix(1, 0), Activity: 5, Sampled: true})

	steps := pf.GetAllSteps()
	steps[0].Activity = 99
	if pf.GetAllSteps()[0].Activity != 5 {
		t.Fatalf("frame mutated through returned copy")
	}
	if NewFrames().GetProcess(3) != nil {
		t.Fatalf("expected nil for unknown pid")
	}
}

func TestFrames_ConcurrentReaders(t *testing.T) {
	df := NewFrames()
	pf := df.AddProcess(1)

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = pf.GetAllSteps()
				_ = df.GetAllProcesses()
			}
		}()
	}
	for i := 0; i < 100; i++ {
		pf.Append(&Step{Interval: i, Sampled: true})
	}
	wg.Wait()
	if pf.Len() != 100 {
		t.Fatalf("expected 100 steps, got %d", pf.Len())
	}
}
