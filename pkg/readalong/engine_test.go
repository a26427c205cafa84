package readalong_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quickyap/quickyap/pkg/readalong"
)

// fakeSynth counts calls and concurrency. Call n produces audio for
// chunk n (the engine synthesizes strictly in order).
type fakeSynth struct {
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration

	// beforeReturn, when set, runs before call n returns. It can block
	// to coordinate with the test, or return an error to inject one.
	beforeReturn func(n int) error
}

func (s *fakeSynth) Synthesize(ctx context.Context, text, voiceID string, rate float64) ([]byte, error) {
	n := int(s.calls.Add(1)) - 1
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxInFlight.Load()
		if cur <= max || s.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.beforeReturn != nil {
		if err := s.beforeReturn(n); err != nil {
			return nil, err
		}
	}
	return []byte(text), nil
}

// fakePlayback is a manually driven playable handle.
type fakePlayback struct {
	index int
	done  chan error

	playCount   atomic.Int32
	pauseCount  atomic.Int32
	resumeCount atomic.Int32
	stopCount   atomic.Int32
	closeCount  atomic.Int32

	playing atomic.Bool
}

func (p *fakePlayback) Play() error {
	p.playCount.Add(1)
	p.playing.Store(true)
	return nil
}

func (p *fakePlayback) Pause()  { p.pauseCount.Add(1) }
func (p *fakePlayback) Resume() { p.resumeCount.Add(1) }

func (p *fakePlayback) Done() <-chan error { return p.done }

func (p *fakePlayback) Stop() {
	p.stopCount.Add(1)
	p.playing.Store(false)
}

func (p *fakePlayback) Close() error {
	p.closeCount.Add(1)
	return nil
}

// finish ends playback with the given result.
func (p *fakePlayback) finish(err error) {
	p.playing.Store(false)
	p.done <- err
}

// fakeFactory creates fakePlaybacks and tracks them.
type fakeFactory struct {
	mu        sync.Mutex
	playbacks []*fakePlayback

	// auto finishes each playback immediately after Play.
	auto bool

	// created receives each playback as it is handed to the engine.
	created chan *fakePlayback

	// failAt returns a factory error for the given chunk index (-1 off).
	failAt int

	maxPlaying atomic.Int32
}

func newFakeFactory(auto bool) *fakeFactory {
	return &fakeFactory{auto: auto, created: make(chan *fakePlayback, 64), failAt: -1}
}

func (f *fakeFactory) new(chunk readalong.Chunk, audio []byte) (readalong.Playback, error) {
	if chunk.Index == f.failAt {
		return nil, errors.New("no playback for you")
	}
	p := &fakePlayback{index: chunk.Index, done: make(chan error, 1)}
	f.mu.Lock()
	f.playbacks = append(f.playbacks, p)
	playing := int32(0)
	for _, pb := range f.playbacks {
		if pb.playing.Load() {
			playing++
		}
	}
	if playing+1 > f.maxPlaying.Load() {
		f.maxPlaying.Store(playing + 1)
	}
	f.mu.Unlock()

	f.created <- p
	if f.auto {
		go func() {
			time.Sleep(time.Millisecond)
			p.finish(nil)
		}()
	}
	return p, nil
}

func (f *fakeFactory) all() []*fakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakePlayback, len(f.playbacks))
	copy(out, f.playbacks)
	return out
}

// recorder captures presenter events in arrival order.
type recorder struct {
	mu       sync.Mutex
	events   []string
	terminal chan string
}

func newRecorder() *recorder {
	return &recorder{terminal: make(chan string, 4)}
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) OnChunkActive(i int)    { r.add(fmt.Sprintf("active:%d", i)) }
func (r *recorder) OnChunkCompleted(i int) { r.add(fmt.Sprintf("completed:%d", i)) }
func (r *recorder) OnProgress(current, total int, phase string) {
	r.add(fmt.Sprintf("progress:%s:%d/%d", phase, current, total))
}
func (r *recorder) OnRunComplete() {
	r.add("complete")
	r.terminal <- "complete"
}
func (r *recorder) OnRunStopped() {
	r.add("stopped")
	r.terminal <- "stopped"
}
func (r *recorder) OnRunError(msg string) {
	r.add("error:" + msg)
	r.terminal <- "error"
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event || strings.HasPrefix(e, event) {
			return true
		}
	}
	return false
}

// playbackOrder returns just the active/completed events, in order.
func (r *recorder) playbackOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if strings.HasPrefix(e, "active:") || strings.HasPrefix(e, "completed:") {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) waitTerminal(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.terminal:
		if got != want {
			t.Fatalf("run ended with %q, want %q (events: %v)", got, want, r.events)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run never reached a terminal state (events: %v)", r.events)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitCreated(t *testing.T, f *fakeFactory) *fakePlayback {
	t.Helper()
	select {
	case p := <-f.created:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a playback to be created")
		return nil
	}
}

func chunks(n int) []readalong.Chunk {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d text", i)
	}
	return readalong.Chunks(texts)
}

func TestRunPlaysChunksInOrder(t *testing.T) {
	synth := &fakeSynth{}
	factory := newFakeFactory(true)
	rec := newRecorder()
	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))

	if err := engine.Start(context.Background(), chunks(3), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.waitTerminal(t, "complete")

	want := []string{"active:0", "completed:0", "active:1", "completed:1", "active:2", "completed:2"}
	got := rec.playbackOrder()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("playback order mismatch at %d: expected %v, got %v", i, want, got)
		}
	}

	if engine.Status() != readalong.StatusComplete {
		t.Errorf("expected complete status, got %s", engine.Status())
	}
	if engine.CurrentIndex() != readalong.NoChunk {
		t.Errorf("expected index sentinel after completion, got %d", engine.CurrentIndex())
	}
	for _, p := range factory.all() {
		if p.closeCount.Load() == 0 {
			t.Errorf("playback %d never closed", p.index)
		}
	}
}

func TestSynthesisOverlapsPlayback(t *testing.T) {
	synthStarted := make(chan int, 8)
	synth := &fakeSynth{beforeReturn: func(n int) error {
		synthStarted <- n
		return nil
	}}
	factory := newFakeFactory(false)
	rec := newRecorder()
	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))

	if err := engine.Start(context.Background(), chunks(2), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	<-synthStarted // chunk 0 synthesized
	pb0 := waitCreated(t, factory)

	// Chunk 1 is synthesized while chunk 0 is still playing.
	select {
	case n := <-synthStarted:
		if n != 1 {
			t.Fatalf("expected synthesis of chunk 1, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("synthesis did not continue during playback")
	}
	if !pb0.playing.Load() {
		t.Error("chunk 0 should still be playing while chunk 1 synthesizes")
	}

	pb0.finish(nil)
	pb1 := waitCreated(t, factory)
	pb1.finish(nil)
	rec.waitTerminal(t, "complete")
}

func TestSingleFlightInvariant(t *testing.T) {
	synth := &fakeSynth{delay: 3 * time.Millisecond}
	factory := newFakeFactory(true)
	rec := newRecorder()
	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))

	if err := engine.Start(context.Background(), chunks(6), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.waitTerminal(t, "complete")

	if max := synth.maxInFlight.Load(); max != 1 {
		t.Errorf("expected at most 1 synthesis in flight, saw %d", max)
	}
	if max := factory.maxPlaying.Load(); max != 1 {
		t.Errorf("expected at most 1 playback in flight, saw %d", max)
	}
	if got := int(synth.calls.Load()); got != 6 {
		t.Errorf("expected 6 synthesis calls, got %d", got)
	}
}

func TestSynthesisErrorAbortsRun(t *testing.T) {
	rec := newRecorder()
	factory := newFakeFactory(true)

	// Chunk 1's synthesis fails, but only after chunk 0 finished playing,
	// so chunk 0 stays marked completed.
	synth := &fakeSynth{}
	synth.beforeReturn = func(n int) error {
		if n == 1 {
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) && !rec.has("completed:0") {
				time.Sleep(2 * time.Millisecond)
			}
			return errors.New("backend exploded")
		}
		return nil
	}

	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))
	if err := engine.Start(context.Background(), chunks(3), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.waitTerminal(t, "error")

	if !rec.has("completed:0") {
		t.Error("chunk 0 should remain completed after the failure")
	}
	if engine.Status() != readalong.StatusError {
		t.Errorf("expected error status, got %s", engine.Status())
	}
	if engine.Err() == nil {
		t.Error("expected a run error")
	}
	if got := int(synth.calls.Load()); got != 2 {
		t.Errorf("chunk 2 should never be synthesized, got %d calls", got)
	}
}

func TestSynthesisTimeoutAbortsRun(t *testing.T) {
	// The backend never answers; the per-chunk timeout must end the run.
	synth := &fakeSynth{delay: time.Hour}
	factory := newFakeFactory(true)
	rec := newRecorder()
	engine := readalong.NewEngine(synth, factory.new,
		readalong.WithPresenter(rec),
		readalong.WithSynthesisTimeout(20*time.Millisecond),
	)

	if err := engine.Start(context.Background(), chunks(3), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.waitTerminal(t, "error")

	if engine.Status() != readalong.StatusError {
		t.Errorf("expected error status, got %s", engine.Status())
	}
	if !errors.Is(engine.Err(), context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", engine.Err())
	}
	if got := int(synth.calls.Load()); got != 1 {
		t.Errorf("no further chunks should be synthesized after the timeout, got %d calls", got)
	}
	if got := len(factory.all()); got != 0 {
		t.Errorf("no playback should be created, got %d", got)
	}
	if engine.CurrentIndex() != readalong.NoChunk {
		t.Errorf("expected index sentinel after the failure, got %d", engine.CurrentIndex())
	}
}

func TestPlaybackErrorAbortsRun(t *testing.T) {
	synth := &fakeSynth{}
	factory := newFakeFactory(false)
	rec := newRecorder()
	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))

	if err := engine.Start(context.Background(), chunks(2), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pb0 := waitCreated(t, factory)
	pb0.finish(errors.New("decode failure"))

	rec.waitTerminal(t, "error")
	if engine.Status() != readalong.StatusError {
		t.Errorf("expected error status, got %s", engine.Status())
	}
	var pbErr *readalong.PlaybackError
	if !errors.As(engine.Err(), &pbErr) {
		t.Fatalf("expected PlaybackError, got %v", engine.Err())
	}
	if pbErr.Index != 0 {
		t.Errorf("expected failure on chunk 0, got %d", pbErr.Index)
	}
}

func TestPauseResumeIdempotent(t *testing.T) {
	synth := &fakeSynth{}
	factory := newFakeFactory(false)
	rec := newRecorder()
	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))

	if err := engine.Start(context.Background(), chunks(1), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pb0 := waitCreated(t, factory)
	waitFor(t, "playing status", func() bool { return engine.Status() == readalong.StatusPlaying })

	engine.Pause()
	engine.Pause() // no-op
	if got := pb0.pauseCount.Load(); got != 1 {
		t.Errorf("expected 1 pause, got %d", got)
	}
	if engine.Status() != readalong.StatusPaused {
		t.Errorf("expected paused status, got %s", engine.Status())
	}

	engine.Resume()
	engine.Resume() // no-op
	if got := pb0.resumeCount.Load(); got != 1 {
		t.Errorf("expected 1 resume, got %d", got)
	}
	if engine.Status() != readalong.StatusPlaying {
		t.Errorf("expected playing status, got %s", engine.Status())
	}

	pb0.finish(nil)
	rec.waitTerminal(t, "complete")
}

func TestPauseBetweenChunksHoldsNextChunk(t *testing.T) {
	rec := newRecorder()
	factory := newFakeFactory(false)

	// Chunk 1's synthesis is held back so the pause lands in the gap
	// after chunk 0 finished, while nothing is playing.
	release := make(chan struct{})
	synth := &fakeSynth{}
	synth.beforeReturn = func(n int) error {
		if n == 1 {
			<-release
		}
		return nil
	}

	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))
	if err := engine.Start(context.Background(), chunks(2), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pb0 := waitCreated(t, factory)
	pb0.finish(nil)
	waitFor(t, "chunk 0 completion", func() bool { return rec.has("completed:0") })

	engine.Pause()
	if engine.Status() != readalong.StatusPaused {
		t.Fatalf("expected paused status between chunks, got %s", engine.Status())
	}

	// Chunk 1's audio arriving must not start it while paused.
	close(release)
	pb1 := waitCreated(t, factory)
	time.Sleep(50 * time.Millisecond)
	if got := pb1.playCount.Load(); got != 0 {
		t.Fatalf("chunk 1 started playing while paused (%d plays)", got)
	}
	if engine.Status() != readalong.StatusPaused {
		t.Errorf("expected paused status, got %s", engine.Status())
	}

	engine.Resume()
	waitFor(t, "chunk 1 playing", func() bool { return pb1.playCount.Load() == 1 })
	pb1.finish(nil)
	rec.waitTerminal(t, "complete")
}

func TestStopWhilePausedBetweenChunksReleasesHeldChunk(t *testing.T) {
	rec := newRecorder()
	factory := newFakeFactory(false)

	release := make(chan struct{})
	synth := &fakeSynth{}
	synth.beforeReturn = func(n int) error {
		if n == 1 {
			<-release
		}
		return nil
	}

	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))
	if err := engine.Start(context.Background(), chunks(2), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pb0 := waitCreated(t, factory)
	pb0.finish(nil)
	waitFor(t, "chunk 0 completion", func() bool { return rec.has("completed:0") })

	engine.Pause()
	close(release)
	pb1 := waitCreated(t, factory)

	engine.Stop()
	rec.waitTerminal(t, "stopped")

	waitFor(t, "held playback release", func() bool { return pb1.closeCount.Load() > 0 })
	if got := pb1.playCount.Load(); got != 0 {
		t.Errorf("held chunk must never play, got %d plays", got)
	}
}

func TestStopWhilePausedReleasesEverything(t *testing.T) {
	synth := &fakeSynth{delay: 20 * time.Millisecond}
	factory := newFakeFactory(false)
	rec := newRecorder()
	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))

	if err := engine.Start(context.Background(), chunks(5), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pb0 := waitCreated(t, factory)
	waitFor(t, "playing status", func() bool { return engine.Status() == readalong.StatusPlaying })

	engine.Pause()
	engine.Stop()
	rec.waitTerminal(t, "stopped")

	if engine.Status() != readalong.StatusStopped {
		t.Errorf("expected stopped status, got %s", engine.Status())
	}
	if pb0.stopCount.Load() == 0 {
		t.Error("active playback was not stopped")
	}
	if pb0.closeCount.Load() == 0 {
		t.Error("active playback was not released")
	}

	// The synthesis loop must go quiet after the stop.
	callsAtStop := synth.calls.Load()
	time.Sleep(100 * time.Millisecond)
	if got := synth.calls.Load(); got > callsAtStop+1 {
		t.Errorf("synthesis continued after stop: %d calls, %d at stop", got, callsAtStop)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	synth := &fakeSynth{}
	factory := newFakeFactory(false)
	rec := newRecorder()
	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))

	if err := engine.Start(context.Background(), chunks(1), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitCreated(t, factory)
	engine.Stop()
	engine.Stop() // no-op
	rec.waitTerminal(t, "stopped")
}

func TestStartTearsDownPreviousRun(t *testing.T) {
	synth := &fakeSynth{}
	factory := newFakeFactory(false)
	rec := newRecorder()
	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))

	if err := engine.Start(context.Background(), chunks(3), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pb0 := waitCreated(t, factory)

	// Restart while the first run is mid-playback.
	if err := engine.Start(context.Background(), chunks(1), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pb0.stopCount.Load() == 0 || pb0.closeCount.Load() == 0 {
		t.Error("previous run's playback was not torn down")
	}

	pbNew := waitCreated(t, factory)
	pbNew.finish(nil)
	rec.waitTerminal(t, "complete")
}

func TestStartRejectsEmptyChunks(t *testing.T) {
	engine := readalong.NewEngine(&fakeSynth{}, newFakeFactory(true).new)
	if err := engine.Start(context.Background(), nil, "voice", 1.0); !errors.Is(err, readalong.ErrNoChunks) {
		t.Errorf("expected ErrNoChunks, got %v", err)
	}
	if engine.Status() != readalong.StatusIdle {
		t.Errorf("expected idle status, got %s", engine.Status())
	}
}

func TestFactoryFailureIsPlaybackError(t *testing.T) {
	synth := &fakeSynth{}
	factory := newFakeFactory(false)
	factory.failAt = 0
	rec := newRecorder()
	engine := readalong.NewEngine(synth, factory.new, readalong.WithPresenter(rec))

	if err := engine.Start(context.Background(), chunks(1), "voice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.waitTerminal(t, "error")
	var pbErr *readalong.PlaybackError
	if !errors.As(engine.Err(), &pbErr) {
		t.Fatalf("expected PlaybackError, got %v", engine.Err())
	}
}
