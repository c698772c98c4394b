// ABOUTME: Minimal fake agent for local testing — serves the relay's SSE contract and echoes prompts.
// ABOUTME: Usage: fake-agent [-addr localhost:8080] [-delay 500ms]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
)

type runRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
	Workspace string `json:"workspace"`
	RequestID string `json:"request_id"`
}

func main() {
	addr := flag.String("addr", "localhost:8080", "listen address")
	delay := flag.Duration("delay", 500*time.Millisecond, "simulated thinking time")
	flag.Parse()

	if err := run(*addr, *delay); err != nil {
		log.Fatal(err)
	}
}

func run(addr string, delay time.Duration) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/run", func(w http.ResponseWriter, r *http.Request) {
		handleRun(w, r, delay)
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	errC := make(chan error, 1)
	go func() {
		errC <- srv.ListenAndServe()
	}()
	fmt.Fprintf(os.Stderr, "fake agent listening on %s\n", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func handleRun(w http.ResponseWriter, r *http.Request, delay time.Duration) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	emit := func(event string, payload any) {
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	emit("init", map[string]string{"session_id": sessionID})

	select {
	case <-r.Context().Done():
		return
	case <-time.After(delay):
	}

	reply := fmt.Sprintf("You said:\n\n> %s", req.Prompt)
	emit("assistant", map[string]any{
		"content": []map[string]string{{"type": "text", "text": reply}},
	})
	emit("result", map[string]any{"session_id": sessionID, "cost_usd": 0.0001})
}
