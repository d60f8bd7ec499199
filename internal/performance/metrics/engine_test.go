package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/vuload/internal/performance"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	snapshot := engine.Snapshot()
	if snapshot.Total != 0 {
		t.Errorf("Initial Total = %d, want 0", snapshot.Total)
	}
	if snapshot.Phase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.Phase, PhaseInit)
	}
}

func TestEngine_Observe(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.Observe(performance.Succeeded(10 * time.Millisecond))
	engine.Observe(performance.Succeeded(20 * time.Millisecond))
	engine.Observe(performance.Failed(30*time.Millisecond, errors.New("503")))
	engine.Observe(performance.ExecutionRecord{Error: "target panicked: boom"})

	snapshot := engine.Snapshot()

	if snapshot.Total != 4 {
		t.Errorf("Total = %d, want 4", snapshot.Total)
	}
	if snapshot.Success != 2 {
		t.Errorf("Success = %d, want 2", snapshot.Success)
	}
	if snapshot.Failed != 2 {
		t.Errorf("Failed = %d, want 2", snapshot.Failed)
	}
	if snapshot.Latency.Count != 3 {
		t.Errorf("Latency.Count = %d, want 3 (records without latency are not histogrammed)", snapshot.Latency.Count)
	}
	if snapshot.ErrorRate != 0.5 {
		t.Errorf("ErrorRate = %v, want 0.5", snapshot.ErrorRate)
	}
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	for ms := int64(10); ms <= 100; ms += 10 {
		engine.Observe(performance.Succeeded(time.Duration(ms) * time.Millisecond))
	}

	percentiles := engine.Percentiles()

	if percentiles.P50 < 40*time.Millisecond || percentiles.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms (±10ms)", percentiles.P50)
	}
	if percentiles.P99 < 90*time.Millisecond || percentiles.P99 > 110*time.Millisecond {
		t.Errorf("P99 = %v, want ~100ms (±10ms)", percentiles.P99)
	}
	if percentiles.Min < 9*time.Millisecond || percentiles.Min > 11*time.Millisecond {
		t.Errorf("Min = %v, want ~10ms", percentiles.Min)
	}
	if percentiles.Max < 99*time.Millisecond || percentiles.Max > 101*time.Millisecond {
		t.Errorf("Max = %v, want ~100ms", percentiles.Max)
	}
}

func TestEngine_Phase(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	phases := []Phase{PhaseRampUp, PhaseRampUp, PhaseSteady}
	for _, phase := range phases {
		engine.SetPhase(phase)
		if engine.Phase() != phase {
			t.Errorf("After SetPhase(%v), Phase() = %v", phase, engine.Phase())
		}
	}

	history := engine.PhaseHistory()
	if len(history) != 2 {
		t.Errorf("PhaseHistory length = %d, want 2 (repeated phase is ignored)", len(history))
	}
}

func TestEngine_ActiveVUs(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	if got := engine.AddActiveVUs(3); got != 3 {
		t.Errorf("AddActiveVUs(3) = %d, want 3", got)
	}
	if got := engine.AddActiveVUs(-1); got != 2 {
		t.Errorf("AddActiveVUs(-1) = %d, want 2", got)
	}
	if engine.ActiveVUs() != 2 {
		t.Errorf("ActiveVUs() = %d, want 2", engine.ActiveVUs())
	}
}

func TestEngine_ConcurrentObserve(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				engine.Observe(performance.Succeeded(time.Millisecond))
			}
		}()
	}
	wg.Wait()

	if got := engine.Counts().Total; got != 2000 {
		t.Errorf("Total = %d, want 2000", got)
	}
}

func TestEngine_Emitter(t *testing.T) {
	engine := NewEngineWithConfig(EngineConfig{BucketInterval: 10 * time.Millisecond})
	engine.SetPhase(PhaseSteady)
	engine.Observe(performance.Succeeded(5 * time.Millisecond))

	time.Sleep(60 * time.Millisecond)
	engine.Stop()
	engine.Stop()

	series := engine.TimeSeries()
	if len(series) < 2 {
		t.Fatalf("TimeSeries length = %d, want at least 2", len(series))
	}

	last := series[len(series)-1]
	if last.Phase != PhaseDone {
		t.Errorf("final bucket phase = %v, want %v", last.Phase, PhaseDone)
	}
	if last.TotalRequests != 1 {
		t.Errorf("final bucket TotalRequests = %d, want 1", last.TotalRequests)
	}

	var interval int64
	for _, b := range series {
		interval += b.IntervalRequests
	}
	if interval != 1 {
		t.Errorf("sum of IntervalRequests = %d, want 1", interval)
	}
}

func TestTimeBucketStore_Ring(t *testing.T) {
	store := NewTimeBucketStore(3)
	base := time.Unix(0, 0)

	for i := 0; i < 5; i++ {
		store.RecordRequest(i%2 == 0)
		store.CreateBucket(base.Add(time.Duration(i+1)*time.Second), Counts{Total: int64(i + 1)}, LatencyPercentiles{}, i, PhaseSteady)
	}

	if store.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", store.Count())
	}

	buckets := store.Buckets()
	for i, b := range buckets {
		if want := int64(i + 3); b.TotalRequests != want {
			t.Errorf("bucket[%d].TotalRequests = %d, want %d", i, b.TotalRequests, want)
		}
	}
	if latest := store.Latest(); latest.TotalRequests != 5 {
		t.Errorf("Latest().TotalRequests = %d, want 5", latest.TotalRequests)
	}
}

func TestTimeBucketStore_SteadyStateRPS(t *testing.T) {
	store := NewTimeBucketStore(10)
	base := time.Now()

	store.RecordRequest(true)
	store.CreateBucket(base.Add(time.Second), Counts{}, LatencyPercentiles{}, 1, PhaseRampUp)

	for i := 0; i < 4; i++ {
		store.RecordRequest(true)
		store.RecordRequest(false)
	}
	b := store.CreateBucket(base.Add(2*time.Second), Counts{}, LatencyPercentiles{}, 2, PhaseSteady)

	if b.IntervalErrorRate != 0.5 {
		t.Errorf("IntervalErrorRate = %v, want 0.5", b.IntervalErrorRate)
	}

	rps, n := store.SteadyStateRPS()
	if n != 1 {
		t.Fatalf("steady buckets = %d, want 1", n)
	}
	if rps != 8 {
		t.Errorf("SteadyStateRPS = %v, want 8", rps)
	}

	if _, n := NewTimeBucketStore(0).SteadyStateRPS(); n != 0 {
		t.Errorf("empty store steady buckets = %d, want 0", n)
	}
}

func TestSteadyStateRPS_Empty(t *testing.T) {
	if rps, n := SteadyStateRPS(nil); rps != 0 || n != 0 {
		t.Errorf("SteadyStateRPS(nil) = %v, %d", rps, n)
	}
}
