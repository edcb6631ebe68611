// Package reconcile applies user-reset baselines to cumulative frame
// counters and clears baselines that went stale because the underlying
// counter was reset upstream.
package reconcile

import "github.com/Dicklesworthstone/obs_stats_monitor/internal/model"

// Reset returns a baseline taken wholesale from the raw values in current.
// Any earlier baseline is discarded.
func Reset(current model.Snapshot) model.Baseline {
	b := model.Baseline{
		Render: model.FramePair{
			Skipped: current.Stats.RenderSkippedFrames,
			Total:   current.Stats.RenderTotalFrames,
		},
		Output: model.FramePair{
			Skipped: current.Stats.OutputSkippedFrames,
			Total:   current.Stats.OutputTotalFrames,
		},
		Outputs: make(map[string]model.FramePair, len(current.Outputs)),
	}
	for _, o := range current.Outputs {
		b.Outputs[o.Name] = model.FramePair{Skipped: o.Status.SkippedFrames, Total: o.Status.TotalFrames}
	}
	return b
}

// ReconcileRollback returns a copy of baseline with every counter group
// whose raw total fell since previous cleared back to zero. Each group is
// checked independently: render, global output, and each named output.
// Without a previous snapshot nothing can be detected and baseline is
// returned unchanged.
func ReconcileRollback(current model.Snapshot, previous *model.Snapshot, baseline model.Baseline) model.Baseline {
	b := baseline.Clone()
	if previous == nil {
		return b
	}
	if b.Render.Total != 0 && current.Stats.RenderTotalFrames < previous.Stats.RenderTotalFrames {
		b.Render = model.FramePair{}
	}
	if b.Output.Total != 0 && current.Stats.OutputTotalFrames < previous.Stats.OutputTotalFrames {
		b.Output = model.FramePair{}
	}
	for _, o := range current.Outputs {
		entry, ok := b.Outputs[o.Name]
		if !ok || entry.Total == 0 {
			continue
		}
		prev, ok := previous.Output(o.Name)
		if !ok {
			continue
		}
		if o.Status.TotalFrames < prev.TotalFrames {
			b.Outputs[o.Name] = model.FramePair{}
		}
	}
	return b
}

// Adjust subtracts baseline from the counters of current and, when present,
// previous. Both snapshots use the same baseline. Results are not clamped.
func Adjust(current model.Snapshot, previous *model.Snapshot, baseline model.Baseline) (model.Snapshot, *model.Snapshot) {
	adjCur := subtract(current, baseline)
	if previous == nil {
		return adjCur, nil
	}
	adjPrev := subtract(*previous, baseline)
	return adjCur, &adjPrev
}

func subtract(s model.Snapshot, b model.Baseline) model.Snapshot {
	out := s.Clone()
	out.Stats.RenderSkippedFrames -= b.Render.Skipped
	out.Stats.RenderTotalFrames -= b.Render.Total
	out.Stats.OutputSkippedFrames -= b.Output.Skipped
	out.Stats.OutputTotalFrames -= b.Output.Total
	for i := range out.Outputs {
		entry := b.Outputs[out.Outputs[i].Name]
		out.Outputs[i].Status.SkippedFrames -= entry.Skipped
		out.Outputs[i].Status.TotalFrames -= entry.Total
	}
	return out
}
