package engine

import (
	"time"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/classify"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/model"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/reconcile"
)

// View is one reconciled reading, ready for presentation.
type View struct {
	State     string            `json:"state"`
	Timestamp time.Time         `json:"timestamp"`
	Sampled   bool              `json:"sampled"`
	Stats     model.GlobalStats `json:"stats"` // counters adjusted
	Render    classify.Result   `json:"render"`
	Output    classify.Result   `json:"output"`

	RenderDropped bool `json:"renderDropped"`
	OutputDropped bool `json:"outputDropped"`

	Outputs  []OutputView   `json:"outputs"`
	Baseline model.Baseline `json:"baseline"`
}

// OutputView is the reconciled reading of one output.
type OutputView struct {
	Name    string             `json:"name"`
	Status  model.OutputStatus `json:"status"` // counters adjusted
	Frames  classify.Result    `json:"frames"`
	Dropped bool               `json:"dropped"`
	Bitrate float64            `json:"bitrate"` // bits per second
}

func (e *Engine) viewLocked() View {
	v := View{State: e.state, Baseline: e.baseline.Clone()}
	if e.current == nil {
		return v
	}
	cur, prev := reconcile.Adjust(*e.current, e.previous, e.baseline)

	// Drops and throughput only compare readings from the same session,
	// so the first tick after a (re)connect never reports either.
	if prev != nil && prev.Session != cur.Session {
		prev = nil
	}
	hasPrev := prev != nil

	v.Sampled = true
	v.Timestamp = cur.Timestamp
	v.Stats = cur.Stats
	v.Render = classify.Classify(cur.Stats.RenderTotalFrames, cur.Stats.RenderSkippedFrames)
	v.Output = classify.Classify(cur.Stats.OutputTotalFrames, cur.Stats.OutputSkippedFrames)
	if hasPrev {
		v.RenderDropped = classify.Dropped(cur.Stats.RenderSkippedFrames, prev.Stats.RenderSkippedFrames, true)
		v.OutputDropped = classify.Dropped(cur.Stats.OutputSkippedFrames, prev.Stats.OutputSkippedFrames, true)
	}

	v.Outputs = make([]OutputView, 0, len(cur.Outputs))
	for _, o := range cur.Outputs {
		ov := OutputView{
			Name:   o.Name,
			Status: o.Status,
			Frames: classify.Classify(o.Status.TotalFrames, o.Status.SkippedFrames),
		}
		if p, ok := prev.Output(o.Name); ok {
			ov.Dropped = classify.Dropped(o.Status.SkippedFrames, p.SkippedFrames, true)
			ov.Bitrate = classify.Throughput(o.Status.Bytes, p.Bytes, true, e.period)
		}
		v.Outputs = append(v.Outputs, ov)
	}
	return v
}
