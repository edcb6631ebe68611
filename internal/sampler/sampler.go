// Package sampler polls the remote engine on a fixed period and hands each
// complete snapshot to a committer.
package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/model"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/obsws"
)

// DefaultInterval is the polling period.
const DefaultInterval = 2 * time.Second

// Caller is the subset of the transport client the sampler uses.
type Caller interface {
	Call(ctx context.Context, requestType string, data any) (json.RawMessage, error)
	CallBatch(ctx context.Context, requests []obsws.Request) ([]obsws.Response, error)
}

// Committer receives each snapshot. It returns false when the snapshot was
// discarded because the loop is being torn down.
type Committer interface {
	Commit(ctx context.Context, snap model.Snapshot) bool
}

// errNoStats means the batch came back without a usable GetStats result.
var errNoStats = errors.New("sampler: stats result missing")

var errDiscarded = errors.New("sampler: snapshot discarded")

// Sampler runs the polling loop for one connection session.
type Sampler struct {
	Interval time.Duration

	client  Caller
	session uint64
	log     *slog.Logger
	now     func() time.Time

	// names are the outputs queried on the next tick, in listing order.
	names []string
}

func New(client Caller, session uint64, interval time.Duration, log *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{
		Interval: interval,
		client:   client,
		session:  session,
		log:      log,
		now:      time.Now,
	}
}

// Run ticks immediately and then every Interval until ctx is done. Ticks
// never overlap: a slow tick delays the next one.
func (s *Sampler) Run(ctx context.Context, sink Committer) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.Tick(ctx, sink); err != nil && ctx.Err() == nil {
			s.log.Warn("sampler: tick abandoned", "session", s.session, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one poll. On error nothing is committed and the known
// output names are left as they were.
func (s *Sampler) Tick(ctx context.Context, sink Committer) error {
	if len(s.names) == 0 {
		names, err := s.listOutputs(ctx)
		if err != nil {
			return fmt.Errorf("list outputs: %w", err)
		}
		s.names = names
	}

	queried := s.names
	requests := make([]obsws.Request, 0, len(queried)+2)
	requests = append(requests,
		obsws.Request{Type: obsws.GetOutputList},
		obsws.Request{Type: obsws.GetStats},
	)
	for _, name := range queried {
		requests = append(requests, obsws.OutputStatusRequest(name))
	}

	results, err := s.client.CallBatch(ctx, requests)
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	snap, err := s.build(queried, results)
	if err != nil {
		return err
	}
	if !sink.Commit(ctx, snap) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errDiscarded
	}

	// The refreshed list is only queried from the next tick on.
	s.names = nil
	if len(results) > 0 && results[0].OK() {
		var list obsws.OutputList
		if err := json.Unmarshal(results[0].Data, &list); err == nil {
			s.names = list.Names()
		} else {
			s.log.Debug("sampler: undecodable output list", "error", err)
		}
	}
	return nil
}

// build pairs each queried name with the status at the same position.
// Names are never read back from the response.
func (s *Sampler) build(queried []string, results []obsws.Response) (model.Snapshot, error) {
	if len(results) < 2 || !results[1].OK() {
		return model.Snapshot{}, errNoStats
	}
	var stats model.GlobalStats
	if err := json.Unmarshal(results[1].Data, &stats); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode stats: %w", err)
	}

	snap := model.Snapshot{
		Timestamp: s.now(),
		Session:   s.session,
		Stats:     stats,
		Outputs:   make([]model.Output, 0, len(queried)),
	}
	for i, name := range queried {
		idx := i + 2
		if idx >= len(results) || !results[idx].OK() {
			continue
		}
		var st model.OutputStatus
		if err := json.Unmarshal(results[idx].Data, &st); err != nil {
			s.log.Debug("sampler: undecodable output status", "output", name, "error", err)
			continue
		}
		snap.Outputs = append(snap.Outputs, model.Output{Name: name, Status: st})
	}
	return snap, nil
}

func (s *Sampler) listOutputs(ctx context.Context) ([]string, error) {
	raw, err := s.client.Call(ctx, obsws.GetOutputList, nil)
	if err != nil {
		return nil, err
	}
	var list obsws.OutputList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list.Names(), nil
}

// Names returns the outputs that the next tick will query.
func (s *Sampler) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}
