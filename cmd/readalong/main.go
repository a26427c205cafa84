// readalong is a headless client for the read-along WebSocket endpoint.
// It narrates a text file (or stdin) through a running quickyapd, prints
// progress, and can save each chunk's WAV to a directory. Since there is
// no audio device, every chunk is acked as soon as its audio arrives.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gorilla/websocket"

	"github.com/quickyap/quickyap/internal/log"
)

type serverEvent struct {
	Type    string  `json:"type"`
	Index   int     `json:"index"`
	Data    string  `json:"data"`
	Message string  `json:"message"`
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Phase   string  `json:"phase"`
	Chunks  []chunk `json:"chunks"`
}

type chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func main() {
	server := flag.String("server", "ws://localhost:8080/ws/readalong", "read-along WebSocket URL")
	file := flag.String("file", "", "text file to narrate (default: stdin)")
	voice := flag.String("voice", "", "voice ID (default: server setting)")
	rate := flag.Float64("rate", 0, "narration rate 0.5-2.0 (default: server setting)")
	mode := flag.String("mode", "", "chunking mode: paragraph or line (default: server setting)")
	outDir := flag.String("out", "", "directory to save chunk WAVs")
	override := flag.Bool("override", false, "bypass the chunk limits")
	flag.Parse()

	log.Init(os.Getenv("LOG_LEVEL"))
	logger := log.With("component", "readalong-cli")

	text, err := readText(*file)
	if err != nil {
		logger.Error("could not read input", "error", err)
		os.Exit(1)
	}

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			logger.Error("could not create output directory", "error", err)
			os.Exit(1)
		}
	}

	conn, _, err := websocket.DefaultDialer.Dial(*server, nil)
	if err != nil {
		logger.Error("could not connect", "error", err, "server", *server)
		os.Exit(1)
	}
	defer conn.Close()

	start := map[string]any{
		"type":     "start",
		"text":     text,
		"override": *override,
	}
	if *voice != "" {
		start["voice"] = *voice
	}
	if *rate != 0 {
		start["rate"] = *rate
	}
	if *mode != "" {
		start["mode"] = *mode
	}
	if err := conn.WriteJSON(start); err != nil {
		logger.Error("could not start run", "error", err)
		os.Exit(1)
	}

	for {
		var ev serverEvent
		if err := conn.ReadJSON(&ev); err != nil {
			logger.Error("connection lost", "error", err)
			os.Exit(1)
		}

		switch ev.Type {
		case "chunks":
			fmt.Printf("narrating %d chunks\n", len(ev.Chunks))

		case "limit":
			fmt.Fprintf(os.Stderr, "rejected: %s (rerun with -override to force)\n", ev.Message)
			os.Exit(2)

		case "audio":
			audio, err := base64.StdEncoding.DecodeString(ev.Data)
			if err != nil {
				logger.Error("bad audio payload", "index", ev.Index, "error", err)
				os.Exit(1)
			}
			if *outDir != "" {
				name := filepath.Join(*outDir, fmt.Sprintf("chunk-%03d.wav", ev.Index))
				if err := os.WriteFile(name, audio, 0o644); err != nil {
					logger.Error("could not save chunk", "path", name, "error", err)
					os.Exit(1)
				}
			}
			// No audio device here: ack immediately so the run advances.
			if err := conn.WriteJSON(map[string]any{"type": "ended", "index": ev.Index}); err != nil {
				logger.Error("could not ack chunk", "error", err)
				os.Exit(1)
			}

		case "active":
			fmt.Printf("chunk %d playing\n", ev.Index)

		case "completed":
			fmt.Printf("chunk %d done\n", ev.Index)

		case "progress":
			fmt.Printf("%s %d/%d\n", ev.Phase, ev.Current, ev.Total)

		case "complete":
			fmt.Println("run complete")
			return

		case "stopped":
			fmt.Println("run stopped")
			return

		case "error":
			fmt.Fprintf(os.Stderr, "run failed: %s\n", ev.Message)
			os.Exit(1)
		}
	}
}

func readText(path string) (string, error) {
	if path == "" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}
