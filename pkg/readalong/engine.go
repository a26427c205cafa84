package readalong

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSynthesisTimeout bounds each synthesis call so a hung backend
// cannot stall a run forever. Disable with WithSynthesisTimeout(0).
const DefaultSynthesisTimeout = 60 * time.Second

// Engine drives the read-along pipeline. At most one run exists at a
// time; starting a new run tears down the previous one synchronously.
//
// Exactly one synthesis request and one playback may be in flight at any
// moment. They overlap with each other but never with their own kind,
// which keeps ordering deterministic.
type Engine struct {
	synth        Synthesizer
	newPlayback  PlaybackFactory
	presenter    Presenter
	logger       *slog.Logger
	synthTimeout time.Duration

	mu  sync.Mutex
	run *run
}

// Option configures an Engine.
type Option func(*Engine)

// WithPresenter sets the presentation adapter receiving engine events.
func WithPresenter(p Presenter) Option {
	return func(e *Engine) {
		if p != nil {
			e.presenter = p
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSynthesisTimeout bounds each per-chunk synthesis call.
// Zero disables the bound.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.synthTimeout = d
	}
}

// NewEngine creates an engine around a synthesizer and a playback factory.
func NewEngine(synth Synthesizer, factory PlaybackFactory, opts ...Option) *Engine {
	e := &Engine{
		synth:        synth,
		newPlayback:  factory,
		presenter:    NopPresenter{},
		logger:       slog.Default().With("component", "readalong"),
		synthTimeout: DefaultSynthesisTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins a new read-along run. Any previous run is cancelled and
// torn down first, releasing all of its chunk audio. Start returns once
// the run is launched; progress is reported through the presenter.
//
// ctx scopes the whole run: cancelling it aborts synthesis. Use Stop for
// the cooperative user-facing stop.
func (e *Engine) Start(ctx context.Context, chunks []Chunk, voiceID string, rate float64) error {
	if len(chunks) == 0 {
		return ErrNoChunks
	}

	e.mu.Lock()
	prev := e.run
	e.run = nil
	e.mu.Unlock()
	if prev != nil {
		prev.halt(false)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		synth:        e.synth,
		newPlayback:  e.newPlayback,
		presenter:    e.presenter,
		logger:       e.logger,
		synthTimeout: e.synthTimeout,
		chunks:       chunks,
		voiceID:      voiceID,
		rate:         rate,
		ctx:          runCtx,
		cancel:       cancel,
		ready:        make(chan *chunkAudio, len(chunks)),
		stop:         make(chan struct{}),
		playbackDone: make(chan struct{}),
		status:       StatusSynthesizing,
		current:      NoChunk,
	}

	e.mu.Lock()
	e.run = r
	e.mu.Unlock()

	e.logger.Info("read-along run started", "chunks", len(chunks), "voice", voiceID, "rate", rate)

	go r.synthesize()
	go r.play()
	return nil
}

// Pause suspends the run. A chunk playing now is paused in place; when
// the run is between chunks (the next chunk's audio not ready yet), the
// next chunk is held back until Resume. Synthesis of upcoming chunks
// continues regardless.
func (e *Engine) Pause() {
	if r := e.currentRun(); r != nil {
		r.pause()
	}
}

// Resume continues playback from the paused position, or releases a
// chunk held back by a between-chunks pause. No-op unless paused.
func (e *Engine) Resume() {
	if r := e.currentRun(); r != nil {
		r.resume()
	}
}

// Stop cancels the current run cooperatively: the in-flight synthesis
// request is allowed to finish (its result is discarded), the current
// playback is stopped, and all remaining chunk audio is released.
func (e *Engine) Stop() {
	if r := e.currentRun(); r != nil {
		r.halt(true)
	}
}

// Status returns the current run status, or StatusIdle when no run has
// been started.
func (e *Engine) Status() Status {
	r := e.currentRun()
	if r == nil {
		return StatusIdle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// CurrentIndex returns the index of the chunk being played, or NoChunk.
func (e *Engine) CurrentIndex() int {
	r := e.currentRun()
	if r == nil {
		return NoChunk
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Err returns the failure that ended the current run, if any.
func (e *Engine) Err() error {
	r := e.currentRun()
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (e *Engine) currentRun() *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run
}

// chunkAudio is a synthesis result awaiting playback. The audio bytes are
// owned by the run until a Playback takes them over or the run is torn
// down.
type chunkAudio struct {
	chunk Chunk
	audio []byte
}

// run is the state of one read-along invocation. It is created by Start,
// never reused, and releases everything it owns on every exit path.
type run struct {
	synth        Synthesizer
	newPlayback  PlaybackFactory
	presenter    Presenter
	logger       *slog.Logger
	synthTimeout time.Duration

	chunks  []Chunk
	voiceID string
	rate    float64

	ctx    context.Context
	cancel context.CancelFunc

	// ready carries synthesized audio from the synthesis loop to the
	// playback loop in ascending index order. It is buffered to the full
	// chunk count so synthesis never blocks on playback (pre-buffering
	// during pause is allowed and desired). Closed when synthesis is
	// done.
	ready chan *chunkAudio

	// stop is closed exactly once when the run is cancelled or fails.
	// Both loops check it at every suspension point.
	stop     chan struct{}
	stopOnce sync.Once

	// playbackDone is closed when the playback loop exits, so teardown
	// can be synchronous.
	playbackDone chan struct{}

	mu      sync.Mutex
	status  Status
	current int
	active  Playback
	err     error

	// paused is the run-level pause flag. It outlives the active playback:
	// a pause issued between chunks (active == nil) must still hold the
	// next chunk back. resumed is created on pause and closed on resume so
	// the playback loop can wait without polling. beforePause remembers
	// the status to restore on resume.
	paused      bool
	resumed     chan struct{}
	beforePause Status
}

// cancelled reports whether stop has been requested.
func (r *run) cancelled() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// synthesize requests audio for each chunk strictly in index order, one
// call at a time, and hands results to the playback loop.
func (r *run) synthesize() {
	defer r.cancel()

	total := len(r.chunks)
	for i, chunk := range r.chunks {
		if r.cancelled() {
			return
		}

		ctx := r.ctx
		cancel := context.CancelFunc(nil)
		if r.synthTimeout > 0 {
			ctx, cancel = context.WithTimeout(r.ctx, r.synthTimeout)
		}
		audio, err := r.synth.Synthesize(ctx, chunk.Text, r.voiceID, r.rate)
		if cancel != nil {
			cancel()
		}

		// A stop that raced the network call discards the result.
		if r.cancelled() {
			return
		}
		if err != nil {
			r.fail(err)
			return
		}

		select {
		case r.ready <- &chunkAudio{chunk: chunk, audio: audio}:
		case <-r.stop:
			return
		}
		r.presenter.OnProgress(i+1, total, PhaseSynthesizing)
	}
	close(r.ready)
}

// play consumes synthesized chunks in order, playing each to completion.
// When the next chunk's audio is not ready yet, it blocks on the ready
// channel rather than polling.
func (r *run) play() {
	defer close(r.playbackDone)

	for {
		select {
		case <-r.stop:
			return
		case ca, ok := <-r.ready:
			if !ok {
				r.complete()
				return
			}
			if !r.playOne(ca) {
				return
			}
		}
	}
}

// playOne plays a single chunk to completion. It returns false when the
// run should not advance further.
func (r *run) playOne(ca *chunkAudio) bool {
	if r.cancelled() {
		return false
	}

	pb, err := r.newPlayback(ca.chunk, ca.audio)
	if err != nil {
		r.fail(&PlaybackError{Index: ca.chunk.Index, Err: err})
		return false
	}

	// A pause issued between chunks holds this chunk here until resume or
	// stop. The paused check and the active handoff share one critical
	// section so a pause can never slip between them.
	for {
		r.mu.Lock()
		if r.status.terminal() {
			r.mu.Unlock()
			pb.Stop()
			pb.Close()
			return false
		}
		if !r.paused {
			break
		}
		wait := r.resumed
		r.mu.Unlock()
		select {
		case <-wait:
		case <-r.stop:
			pb.Stop()
			pb.Close()
			return false
		}
	}
	r.status = StatusPlaying
	r.current = ca.chunk.Index
	r.active = pb
	r.mu.Unlock()

	r.presenter.OnChunkActive(ca.chunk.Index)
	r.presenter.OnProgress(ca.chunk.Index+1, len(r.chunks), PhasePlaying)

	if err := pb.Play(); err != nil {
		r.clearActive()
		pb.Close()
		r.fail(&PlaybackError{Index: ca.chunk.Index, Err: err})
		return false
	}

	select {
	case err := <-pb.Done():
		r.clearActive()
		if err != nil {
			pb.Close()
			r.fail(&PlaybackError{Index: ca.chunk.Index, Err: err})
			return false
		}
		r.presenter.OnChunkCompleted(ca.chunk.Index)
		pb.Close()
		return true
	case <-r.stop:
		r.clearActive()
		pb.Stop()
		pb.Close()
		return false
	}
}

func (r *run) clearActive() {
	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()
}

// pause suspends the run. With an active playback it is paused in
// place; between chunks the flag alone holds the next chunk back until
// resume. Pausing when already paused or terminal is a no-op.
func (r *run) pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused || (r.status != StatusPlaying && r.status != StatusSynthesizing) {
		return
	}
	r.paused = true
	r.beforePause = r.status
	r.resumed = make(chan struct{})
	if r.active != nil {
		r.active.Pause()
	}
	r.status = StatusPaused
}

// resume continues the paused playback, or releases the playback loop
// waiting on the pause gate. No-op unless paused.
func (r *run) resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused || r.status != StatusPaused {
		return
	}
	r.paused = false
	r.status = r.beforePause
	if r.active != nil {
		r.active.Resume()
	}
	close(r.resumed)
	r.resumed = nil
}

// complete marks the run finished after the final chunk played.
func (r *run) complete() {
	r.mu.Lock()
	if r.status.terminal() {
		r.mu.Unlock()
		return
	}
	r.status = StatusComplete
	r.current = NoChunk
	r.mu.Unlock()

	r.logger.Info("read-along run complete", "chunks", len(r.chunks))
	r.presenter.OnRunComplete()
}

// fail aborts the run: stops both loops, releases buffered audio, and
// surfaces a single error message. Chunks that already played stay
// completed in the presenter.
func (r *run) fail(err error) {
	r.mu.Lock()
	if r.status.terminal() {
		r.mu.Unlock()
		return
	}
	r.status = StatusError
	r.current = NoChunk
	r.err = err
	active := r.active
	r.active = nil
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stop) })
	if active != nil {
		active.Stop()
		active.Close()
	}
	r.drain()

	r.logger.Error("read-along run failed", "error", err)
	r.presenter.OnRunError(err.Error())
}

// halt cancels the run cooperatively and tears it down synchronously.
// When notify is false the presenter is not told (used when a new run
// replaces this one).
func (r *run) halt(notify bool) {
	r.mu.Lock()
	if r.status.terminal() {
		r.mu.Unlock()
		return
	}
	r.status = StatusStopped
	r.current = NoChunk
	active := r.active
	r.active = nil
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stop) })
	if active != nil {
		active.Stop()
		active.Close()
	}
	<-r.playbackDone
	r.drain()

	r.logger.Info("read-along run stopped")
	if notify {
		r.presenter.OnRunStopped()
	}
}

// drain releases any synthesized audio that never played.
func (r *run) drain() {
	for {
		select {
		case ca, ok := <-r.ready:
			if !ok {
				return
			}
			ca.audio = nil
		default:
			return
		}
	}
}
