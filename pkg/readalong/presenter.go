package readalong

// Presenter receives engine events and renders them: highlight the active
// chunk, mark completed chunks, update progress text. It is a pure view;
// it never mutates run state.
//
// Callbacks are invoked from the engine's goroutines and may arrive
// concurrently (synthesis progress overlaps playback events), so
// implementations must be safe for concurrent use. They must also
// tolerate indexes that are no longer mounted without panicking.
type Presenter interface {
	// OnChunkActive marks the chunk now being played.
	OnChunkActive(index int)

	// OnChunkCompleted marks a chunk whose playback finished.
	OnChunkCompleted(index int)

	// OnProgress reports pipeline progress for the given phase
	// (PhaseSynthesizing or PhasePlaying).
	OnProgress(current, total int, phase string)

	// OnRunComplete signals that the final chunk finished playing.
	// Highlighting should be cleared.
	OnRunComplete()

	// OnRunStopped signals a user-initiated stop.
	OnRunStopped()

	// OnRunError surfaces the single user-visible failure message.
	OnRunError(message string)
}

// NopPresenter ignores all events.
type NopPresenter struct{}

func (NopPresenter) OnChunkActive(int)            {}
func (NopPresenter) OnChunkCompleted(int)         {}
func (NopPresenter) OnProgress(int, int, string)  {}
func (NopPresenter) OnRunComplete()               {}
func (NopPresenter) OnRunStopped()                {}
func (NopPresenter) OnRunError(string)            {}

// Callbacks adapts plain functions to Presenter. Nil fields are no-ops.
type Callbacks struct {
	ChunkActive    func(index int)
	ChunkCompleted func(index int)
	Progress       func(current, total int, phase string)
	RunComplete    func()
	RunStopped     func()
	RunError       func(message string)
}

func (c *Callbacks) OnChunkActive(index int) {
	if c.ChunkActive != nil {
		c.ChunkActive(index)
	}
}

func (c *Callbacks) OnChunkCompleted(index int) {
	if c.ChunkCompleted != nil {
		c.ChunkCompleted(index)
	}
}

func (c *Callbacks) OnProgress(current, total int, phase string) {
	if c.Progress != nil {
		c.Progress(current, total, phase)
	}
}

func (c *Callbacks) OnRunComplete() {
	if c.RunComplete != nil {
		c.RunComplete()
	}
}

func (c *Callbacks) OnRunStopped() {
	if c.RunStopped != nil {
		c.RunStopped()
	}
}

func (c *Callbacks) OnRunError(message string) {
	if c.RunError != nil {
		c.RunError(message)
	}
}

// Verify both adapters implement Presenter at compile time.
var (
	_ Presenter = NopPresenter{}
	_ Presenter = (*Callbacks)(nil)
)
