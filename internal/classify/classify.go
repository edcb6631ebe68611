// Package classify turns skipped/total frame counters into severity tiers
// and computes per-tick throughput and drop indicators.
package classify

import (
	"fmt"
	"time"
)

// Tier is a severity classification of a skipped/total ratio.
type Tier int

const (
	Normal Tier = iota
	Warning
	Critical
)

const (
	warningRatio  = 0.01
	criticalRatio = 0.05
)

func (t Tier) String() string {
	switch t {
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	default:
		return "NORMAL"
	}
}

// MarshalText lets tiers appear by name in JSON output.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Result is the classification of one counter pair.
type Result struct {
	Skipped int64   `json:"skipped"`
	Total   int64   `json:"total"`
	Ratio   float64 `json:"ratio"`
	Tier    Tier    `json:"tier"`
	Label   string  `json:"label"`
}

// Classify maps a (total, skipped) pair to a ratio, tier and label such as
// "3/120 (2.5%)". Thresholds are strict: exactly 1% is NORMAL and exactly
// 5% is WARNING.
func Classify(total, skipped int64) Result {
	var ratio float64
	if total > 0 {
		ratio = float64(skipped) / float64(total)
	}
	tier := Normal
	switch {
	case ratio > criticalRatio:
		tier = Critical
	case ratio > warningRatio:
		tier = Warning
	}
	return Result{
		Skipped: skipped,
		Total:   total,
		Ratio:   ratio,
		Tier:    tier,
		Label:   fmt.Sprintf("%d/%d (%.1f%%)", skipped, total, ratio*100),
	}
}

// Throughput returns bits per second sent between two cumulative byte
// readings taken one period apart. It is zero when there is no previous
// reading or when the counter went backwards.
func Throughput(current, previous int64, hasPrevious bool, period time.Duration) float64 {
	if !hasPrevious || previous > current || period <= 0 {
		return 0
	}
	return float64(current-previous) * 8 / period.Seconds()
}

// Dropped reports whether frames were skipped since the previous tick.
func Dropped(currentSkipped, previousSkipped int64, hasPrevious bool) bool {
	return hasPrevious && currentSkipped > previousSkipped
}
