package web

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"

	"github.com/gofiber/websocket/v2"

	"github.com/quickyap/quickyap/pkg/chunker"
	"github.com/quickyap/quickyap/pkg/readalong"
)

// wsConn is the write side of a read-along connection. *websocket.Conn
// satisfies it; tests use a recording fake.
type wsConn interface {
	WriteJSON(v any) error
}

// clientMessage is anything the browser sends on the read-along socket.
type clientMessage struct {
	Type     string  `json:"type"`
	Text     string  `json:"text,omitempty"`
	Voice    string  `json:"voice,omitempty"`
	Rate     float64 `json:"rate,omitempty"`
	Mode     string  `json:"mode,omitempty"`
	Override bool    `json:"override,omitempty"`
	Index    int     `json:"index,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// readAlongSession owns one WebSocket connection and one engine. The
// browser is the audio device: synthesized chunks are pushed down as
// base64 WAV and the client acks each one with an "ended" message when
// its audio element finishes.
type readAlongSession struct {
	server *Server
	conn   wsConn
	engine *readalong.Engine
	logger *slog.Logger

	// writeMu serializes writes; engine goroutines and the read loop
	// both send events.
	writeMu sync.Mutex

	// pending maps chunk index to the playback awaiting a client ack.
	mu      sync.Mutex
	pending map[int]*wsPlayback
}

func newReadAlongSession(s *Server, conn wsConn) *readAlongSession {
	sess := &readAlongSession{
		server:  s,
		conn:    conn,
		logger:  s.logger.With("component", "readalong-session"),
		pending: make(map[int]*wsPlayback),
	}
	sess.engine = readalong.NewEngine(s.speech, sess.newPlayback,
		readalong.WithPresenter(sess),
		readalong.WithLogger(sess.logger),
	)
	return sess
}

// handleReadAlongWS is the /ws/readalong endpoint.
func (s *Server) handleReadAlongWS(c *websocket.Conn) {
	sess := newReadAlongSession(s, c)
	sess.logger.Info("read-along session opened")
	defer func() {
		sess.engine.Stop()
		sess.logger.Info("read-along session closed")
	}()

	for {
		var msg clientMessage
		if err := c.ReadJSON(&msg); err != nil {
			return
		}
		sess.handle(msg)
	}
}

func (sess *readAlongSession) handle(msg clientMessage) {
	switch msg.Type {
	case "start":
		sess.start(msg)
	case "pause":
		sess.engine.Pause()
	case "resume":
		sess.engine.Resume()
	case "stop":
		sess.engine.Stop()
	case "ended":
		sess.resolve(msg.Index, nil)
	case "playback_error":
		sess.resolve(msg.Index, errors.New(msg.Message))
	default:
		sess.logger.Warn("unknown client message", "type", msg.Type)
	}
}

// start chunks the text, gates it on the configured limits, and launches
// a run. A previous run on this session is torn down by the engine.
func (sess *readAlongSession) start(msg clientMessage) {
	cfg := sess.server.store.Get()

	voice := msg.Voice
	if voice == "" {
		voice = cfg.Voice
	}
	if voice == "" {
		sess.send(map[string]any{"type": "error", "message": "no voice selected"})
		return
	}
	rate := msg.Rate
	if rate == 0 {
		rate = cfg.Rate
	}
	mode := chunker.Mode(msg.Mode)
	if mode != chunker.ModeParagraph && mode != chunker.ModeLine {
		mode = chunker.Mode(cfg.ChunkMode)
	}

	parts := chunker.Split(msg.Text, mode, cfg.MaxCharsPerChunk)
	if len(parts) == 0 {
		sess.send(map[string]any{"type": "error", "message": "no readable text"})
		return
	}

	if !msg.Override {
		if res := chunker.CheckLimits(parts, cfg.MaxChunks, cfg.MaxCharsPerChunk); !res.Valid {
			sess.send(map[string]any{"type": "limit", "valid": false, "message": res.Message})
			return
		}
	}

	chunks := readalong.Chunks(parts)
	sess.send(map[string]any{"type": "chunks", "chunks": chunks, "voice": voice, "rate": rate})

	if err := sess.engine.Start(context.Background(), chunks, voice, rate); err != nil {
		sess.send(map[string]any{"type": "error", "message": err.Error()})
	}
}

func (sess *readAlongSession) send(v any) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return sess.conn.WriteJSON(v)
}

// sendEvent is send for engine callbacks, where a write failure only
// means the client went away.
func (sess *readAlongSession) sendEvent(v any) {
	if err := sess.send(v); err != nil {
		sess.logger.Debug("event dropped", "error", err)
	}
}

func (sess *readAlongSession) register(pb *wsPlayback) {
	sess.mu.Lock()
	sess.pending[pb.chunk.Index] = pb
	sess.mu.Unlock()
}

func (sess *readAlongSession) unregister(index int) {
	sess.mu.Lock()
	delete(sess.pending, index)
	sess.mu.Unlock()
}

// resolve completes the pending playback for a chunk, from a client ack.
func (sess *readAlongSession) resolve(index int, err error) {
	sess.mu.Lock()
	pb := sess.pending[index]
	delete(sess.pending, index)
	sess.mu.Unlock()
	if pb != nil {
		pb.resolve(err)
	}
}

// Presenter events, forwarded to the browser.

func (sess *readAlongSession) OnChunkActive(index int) {
	sess.sendEvent(map[string]any{"type": "active", "index": index})
}

func (sess *readAlongSession) OnChunkCompleted(index int) {
	sess.sendEvent(map[string]any{"type": "completed", "index": index})
}

func (sess *readAlongSession) OnProgress(current, total int, phase string) {
	sess.sendEvent(map[string]any{"type": "progress", "current": current, "total": total, "phase": phase})
}

func (sess *readAlongSession) OnRunComplete() {
	sess.sendEvent(map[string]any{"type": "complete"})
}

func (sess *readAlongSession) OnRunStopped() {
	sess.sendEvent(map[string]any{"type": "stopped"})
}

func (sess *readAlongSession) OnRunError(message string) {
	sess.sendEvent(map[string]any{"type": "error", "message": message})
}

// Verify the session implements Presenter at compile time.
var _ readalong.Presenter = (*readAlongSession)(nil)

// wsPlayback plays one chunk through the browser. Play pushes the audio
// down the socket; Done resolves when the client acks that its audio
// element ended (or reported a decode error).
type wsPlayback struct {
	sess  *readAlongSession
	chunk readalong.Chunk
	audio []byte
	done  chan error
	once  sync.Once
}

func (sess *readAlongSession) newPlayback(chunk readalong.Chunk, audio []byte) (readalong.Playback, error) {
	return &wsPlayback{
		sess:  sess,
		chunk: chunk,
		audio: audio,
		done:  make(chan error, 1),
	}, nil
}

func (p *wsPlayback) Play() error {
	p.sess.register(p)
	return p.sess.send(map[string]any{
		"type":  "audio",
		"index": p.chunk.Index,
		"data":  base64.StdEncoding.EncodeToString(p.audio),
	})
}

func (p *wsPlayback) Pause() {
	p.sess.sendEvent(map[string]any{"type": "paused", "index": p.chunk.Index})
}

func (p *wsPlayback) Resume() {
	p.sess.sendEvent(map[string]any{"type": "resumed", "index": p.chunk.Index})
}

func (p *wsPlayback) Done() <-chan error {
	return p.done
}

func (p *wsPlayback) resolve(err error) {
	p.once.Do(func() { p.done <- err })
}

// Stop burns the resolve slot so a late client ack cannot fire Done.
func (p *wsPlayback) Stop() {
	p.sess.unregister(p.chunk.Index)
	p.once.Do(func() {})
}

func (p *wsPlayback) Close() error {
	p.sess.unregister(p.chunk.Index)
	p.audio = nil
	return nil
}

// Verify wsPlayback implements Playback at compile time.
var _ readalong.Playback = (*wsPlayback)(nil)
