package exporter

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/classify"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/engine"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/model"
)

func sampleView() engine.View {
	return engine.View{
		State:   "connected",
		Sampled: true,
		Stats:   model.GlobalStats{CPUUsage: 12.5, ActiveFPS: 60},
		Render:  classify.Classify(1000, 60),
		Output:  classify.Classify(500, 0),
		Outputs: []engine.OutputView{{
			Name:    "simple_stream",
			Status:  model.OutputStatus{Active: true},
			Frames:  classify.Classify(300, 3),
			Bitrate: 6000000,
		}},
	}
}

func TestObserve(t *testing.T) {
	c := NewCollector()
	c.Observe(sampleView())

	if got := testutil.ToFloat64(c.connected); got != 1 {
		t.Fatalf("connected = %v", got)
	}
	if got := testutil.ToFloat64(c.frames.WithLabelValues("render", "skipped")); got != 60 {
		t.Fatalf("render skipped = %v", got)
	}
	if got := testutil.ToFloat64(c.tier.WithLabelValues("render")); got != float64(classify.Critical) {
		t.Fatalf("render tier = %v", got)
	}
	if got := testutil.ToFloat64(c.outputBits.WithLabelValues("simple_stream")); got != 6000000 {
		t.Fatalf("bitrate = %v", got)
	}
}

func TestObserveDropsVanishedOutputs(t *testing.T) {
	c := NewCollector()
	c.Observe(sampleView())
	v := sampleView()
	v.Outputs = nil
	c.Observe(v)
	if n := testutil.CollectAndCount(c.outputBits); n != 0 {
		t.Fatalf("stale output series = %d", n)
	}
}

func TestObserveDisconnectedKeepsLastNumbers(t *testing.T) {
	c := NewCollector()
	c.Observe(sampleView())
	c.Observe(engine.View{State: "disconnected"})
	if got := testutil.ToFloat64(c.connected); got != 0 {
		t.Fatalf("connected = %v", got)
	}
	if got := testutil.ToFloat64(c.cpu); got != 12.5 {
		t.Fatalf("cpu = %v", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.Observe(sampleView())
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `obsmon_output_bitrate_bps{output="simple_stream"}`) {
		t.Fatalf("metrics body missing bitrate:\n%s", body)
	}
}
