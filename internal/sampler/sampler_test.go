package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/model"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/obsws"
)

// fakeOBS answers batches from mutable in-memory state.
type fakeOBS struct {
	mu       sync.Mutex
	listing  []string
	statuses map[string]model.OutputStatus
	stats    model.GlobalStats
	fail     error
	noStats  bool

	listCalls int
	batches   [][]obsws.Request
}

func newFakeOBS(outputs ...string) *fakeOBS {
	f := &fakeOBS{statuses: map[string]model.OutputStatus{}}
	for i, name := range outputs {
		f.add(name, int64(100*(i+1)))
	}
	return f
}

func (f *fakeOBS) add(name string, bytes int64) {
	f.listing = append(f.listing, name)
	f.statuses[name] = model.OutputStatus{Active: true, Bytes: bytes}
}

func (f *fakeOBS) remove(name string) {
	delete(f.statuses, name)
	for i, n := range f.listing {
		if n == name {
			f.listing = append(f.listing[:i], f.listing[i+1:]...)
			return
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func okResponse(typ string, v any) obsws.Response {
	return obsws.Response{Type: typ, Status: obsws.Status{Result: true, Code: 100}, Data: mustJSON(v)}
}

func (f *fakeOBS) list() any {
	type entry struct {
		Name string `json:"outputName"`
	}
	out := struct {
		Outputs []entry `json:"outputs"`
	}{Outputs: []entry{}}
	for _, n := range f.listing {
		out.Outputs = append(out.Outputs, entry{Name: n})
	}
	return out
}

func (f *fakeOBS) Call(ctx context.Context, requestType string, data any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if requestType != obsws.GetOutputList {
		return nil, fmt.Errorf("unexpected call %s", requestType)
	}
	f.listCalls++
	return mustJSON(f.list()), nil
}

func (f *fakeOBS) CallBatch(ctx context.Context, requests []obsws.Request) ([]obsws.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, requests)
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([]obsws.Response, 0, len(requests))
	for _, r := range requests {
		switch r.Type {
		case obsws.GetOutputList:
			out = append(out, okResponse(r.Type, f.list()))
		case obsws.GetStats:
			if f.noStats {
				out = append(out, obsws.Response{Type: r.Type, Status: obsws.Status{Code: 500}})
				continue
			}
			out = append(out, okResponse(r.Type, f.stats))
		case obsws.GetOutputStatus:
			name := r.Data.(map[string]string)["outputName"]
			st, ok := f.statuses[name]
			if !ok {
				out = append(out, obsws.Response{Type: r.Type, Status: obsws.Status{Code: 600}})
				continue
			}
			out = append(out, okResponse(r.Type, st))
		}
	}
	return out, nil
}

func (f *fakeOBS) lastBatchNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, r := range f.batches[len(f.batches)-1] {
		if r.Type == obsws.GetOutputStatus {
			names = append(names, r.Data.(map[string]string)["outputName"])
		}
	}
	return names
}

type recorder struct {
	mu    sync.Mutex
	snaps []model.Snapshot
	got   chan struct{}
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 16)} }

func (r *recorder) Commit(ctx context.Context, snap model.Snapshot) bool {
	if ctx.Err() != nil {
		return false
	}
	r.mu.Lock()
	r.snaps = append(r.snaps, snap)
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
	return true
}

func (r *recorder) last() model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func outputNames(s model.Snapshot) []string {
	var names []string
	for _, o := range s.Outputs {
		names = append(names, o.Name)
	}
	return names
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFirstTickListsOutputsSynchronously(t *testing.T) {
	obs := newFakeOBS("stream", "record")
	obs.stats = model.GlobalStats{RenderTotalFrames: 1000, RenderSkippedFrames: 60}
	s := New(obs, 7, time.Hour, quietLogger())
	rec := newRecorder()

	if err := s.Tick(context.Background(), rec); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if obs.listCalls != 1 {
		t.Fatalf("listCalls = %d, want 1", obs.listCalls)
	}
	batch := obs.batches[0]
	if batch[0].Type != obsws.GetOutputList || batch[1].Type != obsws.GetStats {
		t.Fatalf("batch head = %s, %s", batch[0].Type, batch[1].Type)
	}
	if got := obs.lastBatchNames(); !reflect.DeepEqual(got, []string{"stream", "record"}) {
		t.Fatalf("queried = %v", got)
	}
	snap := rec.last()
	if snap.Session != 7 || snap.Stats.RenderTotalFrames != 1000 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := outputNames(snap); !reflect.DeepEqual(got, []string{"stream", "record"}) {
		t.Fatalf("outputs = %v", got)
	}
	if st, _ := snap.Output("record"); st.Bytes != 200 {
		t.Fatalf("record status = %+v", st)
	}

	if err := s.Tick(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if obs.listCalls != 1 {
		t.Fatal("second tick should reuse names from the batch listing")
	}
}

func TestNewOutputLagsOneTick(t *testing.T) {
	obs := newFakeOBS("stream")
	s := New(obs, 1, time.Hour, quietLogger())
	rec := newRecorder()
	ctx := context.Background()

	if err := s.Tick(ctx, rec); err != nil {
		t.Fatal(err)
	}
	obs.add("replay", 50)

	if err := s.Tick(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if got := obs.lastBatchNames(); !reflect.DeepEqual(got, []string{"stream"}) {
		t.Fatalf("tick 2 queried %v, new output must wait a tick", got)
	}

	if err := s.Tick(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if got := obs.lastBatchNames(); !reflect.DeepEqual(got, []string{"stream", "replay"}) {
		t.Fatalf("tick 3 queried %v", got)
	}
	if got := outputNames(rec.last()); !reflect.DeepEqual(got, []string{"stream", "replay"}) {
		t.Fatalf("tick 3 outputs %v", got)
	}
}

func TestDeletedOutputQueriedOnceMoreThenDropped(t *testing.T) {
	obs := newFakeOBS("stream", "record")
	s := New(obs, 1, time.Hour, quietLogger())
	rec := newRecorder()
	ctx := context.Background()

	if err := s.Tick(ctx, rec); err != nil {
		t.Fatal(err)
	}
	obs.remove("stream")

	if err := s.Tick(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if got := obs.lastBatchNames(); !reflect.DeepEqual(got, []string{"stream", "record"}) {
		t.Fatalf("tick 2 queried %v", got)
	}
	if got := outputNames(rec.last()); !reflect.DeepEqual(got, []string{"record"}) {
		t.Fatalf("tick 2 outputs %v, missing status must be dropped", got)
	}

	if err := s.Tick(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if got := obs.lastBatchNames(); !reflect.DeepEqual(got, []string{"record"}) {
		t.Fatalf("tick 3 queried %v", got)
	}
}

// positional answers every status request with the index it sat at, so the
// pairing can only come from position.
type positional struct{}

func (positional) Call(context.Context, string, any) (json.RawMessage, error) {
	return mustJSON(map[string]any{"outputs": []map[string]string{{"outputName": "a"}, {"outputName": "b"}}}), nil
}

func (positional) CallBatch(_ context.Context, reqs []obsws.Request) ([]obsws.Response, error) {
	out := []obsws.Response{
		okResponse(obsws.GetOutputList, map[string]any{"outputs": []any{}}),
		okResponse(obsws.GetStats, model.GlobalStats{}),
	}
	for i := range reqs[2:] {
		out = append(out, okResponse("Bogus", map[string]any{"outputBytes": i, "outputName": "z"}))
	}
	return out, nil
}

func TestStatusPairedByPosition(t *testing.T) {
	s := New(positional{}, 1, time.Hour, quietLogger())
	rec := newRecorder()
	if err := s.Tick(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	snap := rec.last()
	a, _ := snap.Output("a")
	b, _ := snap.Output("b")
	if a.Bytes != 0 || b.Bytes != 1 {
		t.Fatalf("a=%+v b=%+v", a, b)
	}
	if len(s.Names()) != 0 {
		t.Fatalf("empty listing should force a fresh list next tick, got %v", s.Names())
	}
}

func TestFailedTickCommitsNothing(t *testing.T) {
	obs := newFakeOBS("stream")
	s := New(obs, 1, time.Hour, quietLogger())
	rec := newRecorder()
	ctx := context.Background()

	if err := s.Tick(ctx, rec); err != nil {
		t.Fatal(err)
	}
	obs.add("replay", 1)
	obs.fail = errors.New("socket closed")
	if err := s.Tick(ctx, rec); err == nil {
		t.Fatal("expected error")
	}
	obs.fail = nil
	obs.noStats = true
	if err := s.Tick(ctx, rec); !errors.Is(err, errNoStats) {
		t.Fatalf("err = %v, want errNoStats", err)
	}
	if len(rec.snaps) != 1 {
		t.Fatalf("committed %d snapshots, want 1", len(rec.snaps))
	}
	if got := s.Names(); !reflect.DeepEqual(got, []string{"stream"}) {
		t.Fatalf("names changed by failed ticks: %v", got)
	}
}

func TestRejectedCommitKeepsNames(t *testing.T) {
	obs := newFakeOBS("stream")
	s := New(obs, 1, time.Hour, quietLogger())
	rec := newRecorder()
	if err := s.Tick(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	obs.add("replay", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Tick(ctx, rec); err == nil {
		t.Fatal("expected cancellation error")
	}
	if got := s.Names(); !reflect.DeepEqual(got, []string{"stream"}) {
		t.Fatalf("names = %v", got)
	}
}

func TestRunTicksImmediatelyAndStops(t *testing.T) {
	obs := newFakeOBS("stream")
	s := New(obs, 1, 20*time.Millisecond, quietLogger())
	rec := newRecorder()
	s.now = func() time.Time { return time.Unix(0, 0) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, rec)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-rec.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d never committed", i+1)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	rec.mu.Lock()
	n := len(rec.snaps)
	rec.mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.snaps) != n {
		t.Fatal("ticks fired after Run returned")
	}
}

func TestRunFirstTickNotDeferred(t *testing.T) {
	obs := newFakeOBS()
	s := New(obs, 1, time.Hour, quietLogger())
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, rec)

	select {
	case <-rec.got:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick waited for the period")
	}
}
