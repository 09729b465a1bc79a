package oracle

import (
	"sync"
	"testing"
)

func TestUsageMeter_Record(t *testing.T) {
	var m UsageMeter
	m.Record(100, 50)
	m.Record(200, 100)
	m.Record(50, 25)

	u := m.Snapshot()
	if u.Calls != 3 || u.InputTokens != 350 || u.OutputTokens != 175 {
		t.Errorf("Snapshot = %+v, want 3 calls 350/175", u)
	}
}

func TestUsageMeter_Concurrent(t *testing.T) {
	var m UsageMeter
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(10, 1)
		}()
	}
	wg.Wait()

	if u := m.Snapshot(); u.Calls != 20 || u.InputTokens != 200 || u.OutputTokens != 20 {
		t.Errorf("Snapshot = %+v", u)
	}
}

func TestUsage_EstimatedCost(t *testing.T) {
	// 1M input at $3 + 1M output at $15
	u := Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	if cost := u.EstimatedCost(); cost != 18.0 {
		t.Errorf("EstimatedCost = %f, want 18.0", cost)
	}
	if cost := (Usage{}).EstimatedCost(); cost != 0 {
		t.Errorf("zero usage cost = %f", cost)
	}
}
