package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/ineilsen/agent-builder-sub002/internal/event"
)

func TestRecordTokens(t *testing.T) {
	var a Aggregator
	a.RecordTokens(event.TokenAccounting{SuccessfulRequests: 3, HasRequests: true, TimeTakenSeconds: 1.5, HasTimeTaken: true})
	a.RecordTokens(event.TokenAccounting{SuccessfulRequests: 99})

	got := a.Snapshot()
	if got.LLMCalls != 3 {
		t.Fatalf("expected 3 calls, got %d", got.LLMCalls)
	}
	if got.ResponseTimeMs != 1500 {
		t.Fatalf("expected 1500ms, got %v", got.ResponseTimeMs)
	}
}

func TestFallbackCountersAndReset(t *testing.T) {
	var a Aggregator
	a.AddCalls(1)
	a.AddResponseTime(250 * time.Millisecond)
	a.AddCalls(0)

	got := a.Snapshot()
	if got.LLMCalls != 1 || got.ResponseTimeMs != 250 {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	a.Reset()
	if got := a.Snapshot(); got != (Snapshot{}) {
		t.Fatalf("reset should zero counters, got %+v", got)
	}
}

func TestConcurrentAdds(t *testing.T) {
	var a Aggregator
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.AddCalls(2)
		}()
	}
	wg.Wait()
	if got := a.Snapshot().LLMCalls; got != 100 {
		t.Fatalf("expected 100 calls, got %d", got)
	}
}
