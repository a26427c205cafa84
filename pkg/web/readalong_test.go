package web

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quickyap/quickyap/internal/settings"
	"github.com/quickyap/quickyap/pkg/readalong"
)

// fakeConn records every event the session writes.
type fakeConn struct {
	mu     sync.Mutex
	events []map[string]any
}

func (f *fakeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) ofType(eventType string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, e := range f.events {
		if e["type"] == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeConn) waitFor(t *testing.T, pred func(map[string]any) bool, what string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, e := range f.events {
			if pred(e) {
				f.mu.Unlock()
				return e
			}
		}
		f.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	return nil
}

func isType(eventType string) func(map[string]any) bool {
	return func(e map[string]any) bool { return e["type"] == eventType }
}

func isAudio(index int) func(map[string]any) bool {
	return func(e map[string]any) bool {
		return e["type"] == "audio" && e["index"] == float64(index)
	}
}

func newTestSession(t *testing.T) (*readAlongSession, *fakeConn, *settings.Store) {
	t.Helper()
	s, _, _ := newTestServer(t)
	if err := s.store.Update(func(cfg *settings.Settings) {
		cfg.Voice = "en_US-amy-medium"
	}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	conn := &fakeConn{}
	return newReadAlongSession(s, conn), conn, s.store
}

func TestReadAlongSessionFullRun(t *testing.T) {
	sess, conn, _ := newTestSession(t)
	defer sess.engine.Stop()

	sess.handle(clientMessage{Type: "start", Text: "One.\n\nTwo."})

	chunksEvents := conn.ofType("chunks")
	if len(chunksEvents) != 1 {
		t.Fatalf("expected one chunks event, got %d", len(chunksEvents))
	}
	if n := len(chunksEvents[0]["chunks"].([]any)); n != 2 {
		t.Fatalf("expected 2 chunks, got %d", n)
	}

	// The browser acks each chunk's audio as it ends.
	conn.waitFor(t, isAudio(0), "audio for chunk 0")
	conn.waitFor(t, isType("active"), "active event")
	sess.handle(clientMessage{Type: "ended", Index: 0})

	conn.waitFor(t, isAudio(1), "audio for chunk 1")
	sess.handle(clientMessage{Type: "ended", Index: 1})

	conn.waitFor(t, isType("complete"), "complete event")

	completed := conn.ofType("completed")
	if len(completed) != 2 || completed[0]["index"] != float64(0) || completed[1]["index"] != float64(1) {
		t.Errorf("unexpected completed events: %v", completed)
	}
	audio := conn.ofType("audio")
	if len(audio) != 2 {
		t.Errorf("expected 2 audio events, got %d", len(audio))
	}
	if data, ok := audio[0]["data"].(string); !ok || data == "" {
		t.Error("audio event missing base64 data")
	}
}

func TestReadAlongSessionLimitGate(t *testing.T) {
	sess, conn, store := newTestSession(t)
	defer sess.engine.Stop()

	store.Update(func(cfg *settings.Settings) { cfg.MaxChunks = 1 })

	sess.handle(clientMessage{Type: "start", Text: "One.\n\nTwo."})

	limits := conn.ofType("limit")
	if len(limits) != 1 || limits[0]["valid"] != false {
		t.Fatalf("expected a limit rejection, got %v", limits)
	}
	if msg, _ := limits[0]["message"].(string); msg == "" {
		t.Error("limit event missing message")
	}
	if len(conn.ofType("chunks")) != 0 {
		t.Error("run should not have started")
	}
	if sess.engine.Status() != readalong.StatusIdle {
		t.Errorf("engine should be idle, got %s", sess.engine.Status())
	}

	// Same text passes with the override flag.
	sess.handle(clientMessage{Type: "start", Text: "One.\n\nTwo.", Override: true})
	if len(conn.ofType("chunks")) != 1 {
		t.Error("override should start the run")
	}
}

func TestReadAlongSessionPlaybackError(t *testing.T) {
	sess, conn, _ := newTestSession(t)
	defer sess.engine.Stop()

	sess.handle(clientMessage{Type: "start", Text: "One.\n\nTwo."})
	conn.waitFor(t, isAudio(0), "audio for chunk 0")
	sess.handle(clientMessage{Type: "playback_error", Index: 0, Message: "decode failed"})

	errEvent := conn.waitFor(t, isType("error"), "error event")
	if msg, _ := errEvent["message"].(string); msg == "" {
		t.Error("error event missing message")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && sess.engine.Status() != readalong.StatusError {
		time.Sleep(2 * time.Millisecond)
	}
	if sess.engine.Status() != readalong.StatusError {
		t.Errorf("engine should be in error state, got %s", sess.engine.Status())
	}
}

func TestReadAlongSessionStop(t *testing.T) {
	sess, conn, _ := newTestSession(t)

	sess.handle(clientMessage{Type: "start", Text: "One.\n\nTwo.\n\nThree."})
	conn.waitFor(t, isAudio(0), "audio for chunk 0")
	sess.handle(clientMessage{Type: "stop"})

	conn.waitFor(t, isType("stopped"), "stopped event")
	if sess.engine.Status() != readalong.StatusStopped {
		t.Errorf("engine should be stopped, got %s", sess.engine.Status())
	}

	// A late ack for the stopped chunk must not panic or revive the run.
	sess.handle(clientMessage{Type: "ended", Index: 0})
	if sess.engine.Status() != readalong.StatusStopped {
		t.Errorf("late ack changed state to %s", sess.engine.Status())
	}
}

func TestReadAlongSessionPauseResume(t *testing.T) {
	sess, conn, _ := newTestSession(t)
	defer sess.engine.Stop()

	sess.handle(clientMessage{Type: "start", Text: "One.\n\nTwo."})
	conn.waitFor(t, isAudio(0), "audio for chunk 0")
	conn.waitFor(t, isType("active"), "active event")

	// Wait until the engine reports playing before pausing.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && sess.engine.Status() != readalong.StatusPlaying {
		time.Sleep(2 * time.Millisecond)
	}

	sess.handle(clientMessage{Type: "pause"})
	conn.waitFor(t, isType("paused"), "paused event")
	if sess.engine.Status() != readalong.StatusPaused {
		t.Errorf("engine should be paused, got %s", sess.engine.Status())
	}

	sess.handle(clientMessage{Type: "resume"})
	conn.waitFor(t, isType("resumed"), "resumed event")

	sess.handle(clientMessage{Type: "ended", Index: 0})
	conn.waitFor(t, isAudio(1), "audio for chunk 1")
	sess.handle(clientMessage{Type: "ended", Index: 1})
	conn.waitFor(t, isType("complete"), "complete event")
}

func TestReadAlongSessionNoVoice(t *testing.T) {
	s, _, _ := newTestServer(t)
	conn := &fakeConn{}
	sess := newReadAlongSession(s, conn)

	sess.handle(clientMessage{Type: "start", Text: "Hello."})
	errs := conn.ofType("error")
	if len(errs) != 1 {
		t.Fatalf("expected an error event, got %v", errs)
	}
	if len(conn.ofType("chunks")) != 0 {
		t.Error("run should not have started")
	}
}

func TestWSPlaybackDoneNeverFiresAfterStop(t *testing.T) {
	sess, _, _ := newTestSession(t)

	pb, err := sess.newPlayback(readalong.Chunk{Index: 0, Text: "x"}, []byte("audio"))
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if err := pb.Play(); err != nil {
		t.Fatalf("play failed: %v", err)
	}

	pb.Stop()
	sess.resolve(0, nil)
	sess.resolve(0, fmt.Errorf("late"))

	select {
	case err := <-pb.Done():
		t.Errorf("Done fired after Stop: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Stop and Close tolerate repeats.
	pb.Stop()
	if err := pb.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := pb.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}
