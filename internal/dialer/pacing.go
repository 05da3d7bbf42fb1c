package dialer

const (
	minRatio  = 1.0
	maxRatio  = 3.0
	ratioStep = 0.1

	defaultPacingWindow = 50
)

// Pacer keeps the predictive lines-per-agent ratio under an abandon ceiling.
// It remembers the last answered calls over a sliding window. Not safe for
// concurrent use; the Scheduler guards it.
type Pacer struct {
	window []bool // true = answered with no agent to take it
	next   int
	filled int
	ratio  float64
	fresh  bool
}

// NewPacer creates a Pacer remembering size answered calls
func NewPacer(size int) *Pacer {
	if size <= 0 {
		size = defaultPacingWindow
	}
	return &Pacer{window: make([]bool, size), ratio: minRatio}
}

// Record adds one answered call to the window
func (p *Pacer) Record(abandoned bool) {
	p.window[p.next] = abandoned
	p.next = (p.next + 1) % len(p.window)
	if p.filled < len(p.window) {
		p.filled++
	}
	p.fresh = true
}

// AbandonRate is the share of abandoned calls in the window
func (p *Pacer) AbandonRate() float64 {
	if p.filled == 0 {
		return 0
	}
	n := 0
	for i := 0; i < p.filled; i++ {
		if p.window[i] {
			n++
		}
	}
	return float64(n) / float64(p.filled)
}

// Ratio returns the current lines-per-agent ratio
func (p *Pacer) Ratio() float64 {
	return p.ratio
}

// Adjust moves the ratio against ceiling and returns it. Above the ceiling
// it backs off two steps; below half the ceiling it dials one step harder.
// Without new calls since the last adjustment the ratio holds.
func (p *Pacer) Adjust(ceiling float64) float64 {
	if !p.fresh {
		return p.ratio
	}
	p.fresh = false

	rate := p.AbandonRate()
	switch {
	case rate > ceiling:
		p.ratio -= 2 * ratioStep
	case rate < ceiling/2:
		p.ratio += ratioStep
	}
	if p.ratio < minRatio {
		p.ratio = minRatio
	}
	if p.ratio > maxRatio {
		p.ratio = maxRatio
	}
	return p.ratio
}
