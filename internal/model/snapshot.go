package model

import "time"

// GlobalStats is the process-wide reading returned by GetStats.
type GlobalStats struct {
	CPUUsage               float64 `json:"cpuUsage"`               // percent
	MemoryUsage            float64 `json:"memoryUsage"`            // MB
	AvailableDiskSpace     float64 `json:"availableDiskSpace"`     // MB
	ActiveFPS              float64 `json:"activeFps"`              // fps
	AverageFrameRenderTime float64 `json:"averageFrameRenderTime"` // ms
	RenderSkippedFrames    int64   `json:"renderSkippedFrames"`
	RenderTotalFrames      int64   `json:"renderTotalFrames"`
	OutputSkippedFrames    int64   `json:"outputSkippedFrames"`
	OutputTotalFrames      int64   `json:"outputTotalFrames"`
	SessionIncomingMsgs    int64   `json:"webSocketSessionIncomingMessages"`
	SessionOutgoingMsgs    int64   `json:"webSocketSessionOutgoingMessages"`
}

// OutputStatus is one output's reading returned by GetOutputStatus.
type OutputStatus struct {
	Active        bool    `json:"outputActive"`
	Reconnecting  bool    `json:"outputReconnecting"`
	Timecode      string  `json:"outputTimecode"`
	Duration      int64   `json:"outputDuration"` // ms
	Congestion    float64 `json:"outputCongestion"`
	Bytes         int64   `json:"outputBytes"`
	SkippedFrames int64   `json:"outputSkippedFrames"`
	TotalFrames   int64   `json:"outputTotalFrames"`
}

// Output pairs a status with the stable output name it was queried for.
type Output struct {
	Name   string       `json:"name"`
	Status OutputStatus `json:"status"`
}

// Snapshot is one complete reading taken at a single poll tick.
// Session identifies the connection the reading was taken on.
type Snapshot struct {
	Timestamp time.Time   `json:"timestamp"`
	Session   uint64      `json:"session"`
	Stats     GlobalStats `json:"stats"`
	Outputs   []Output    `json:"outputs"`
}

// Output returns the named output's status, if present.
func (s *Snapshot) Output(name string) (OutputStatus, bool) {
	if s == nil {
		return OutputStatus{}, false
	}
	for _, o := range s.Outputs {
		if o.Name == name {
			return o.Status, true
		}
	}
	return OutputStatus{}, false
}

// Clone returns a deep copy so callers can adjust counters without
// touching the committed snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Outputs != nil {
		out.Outputs = make([]Output, len(s.Outputs))
		copy(out.Outputs, s.Outputs)
	}
	return out
}

// FramePair is a skipped/total counter pair.
type FramePair struct {
	Skipped int64 `json:"skipped"`
	Total   int64 `json:"total"`
}

// Baseline holds the counter floors recorded by the last user reset.
type Baseline struct {
	Render  FramePair            `json:"render"`
	Output  FramePair            `json:"output"`
	Outputs map[string]FramePair `json:"outputs"`
}

// ZeroBaseline returns an empty baseline for initialization.
func ZeroBaseline() Baseline { return Baseline{Outputs: map[string]FramePair{}} }

// Clone returns a deep copy of b.
func (b Baseline) Clone() Baseline {
	out := Baseline{Render: b.Render, Output: b.Output, Outputs: make(map[string]FramePair, len(b.Outputs))}
	for k, v := range b.Outputs {
		out.Outputs[k] = v
	}
	return out
}
