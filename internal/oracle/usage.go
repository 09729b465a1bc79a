package oracle

import "sync"

// List prices in USD per million tokens for the default Sonnet model.
const (
	inputPricePerMTok  = 3.0
	outputPricePerMTok = 15.0
)

// Usage is the token spend of an oracle client at a point in time.
type Usage struct {
	Calls        int
	InputTokens  int64
	OutputTokens int64
}

// EstimatedCost prices the usage at Sonnet list rates.
func (u Usage) EstimatedCost() float64 {
	return float64(u.InputTokens)/1_000_000*inputPricePerMTok +
		float64(u.OutputTokens)/1_000_000*outputPricePerMTok
}

// UsageMeter accumulates usage across calls. The zero value is ready to use.
type UsageMeter struct {
	mu    sync.Mutex
	usage Usage
}

// Record adds one call's token counts.
func (m *UsageMeter) Record(input, output int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.Calls++
	m.usage.InputTokens += input
	m.usage.OutputTokens += output
}

// Snapshot returns the usage recorded so far.
func (m *UsageMeter) Snapshot() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}
