package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ugchub/internal/domain"
	"ugchub/internal/realtime"
)

const defaultHeartbeat = 25 * time.Second

// registerStream serves GET <base>/stream as Server-Sent Events. Each client
// gets its own realtime.Follower, so a dropped broker connection degrades to
// polling for that client only.
func registerStream(r chi.Router, basePath string, cfg Config) {
	r.Get(path.Join(basePath, "stream"), func(w http.ResponseWriter, req *http.Request) {
		serveStream(w, req, cfg)
	})
}

func serveStream(w http.ResponseWriter, req *http.Request, cfg Config) {
	actor, authErr := actorFromContext(req.Context())
	if authErr != nil {
		respondStatusError(w, authErr)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
		return
	}
	e := cfg.Engine
	cursor, err := streamCursor(req)
	if err != nil {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil))
		return
	}
	if cursor < 0 {
		if cursor, err = e.LatestEventID(req.Context()); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(req.Context())
	// The heartbeat goroutine must be gone before w is released.
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	var mu sync.Mutex
	write := func(chunk string) error {
		mu.Lock()
		defer mu.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := fmt.Fprint(w, chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := write(": ping\n\n"); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	logger := cfg.Logger.With(zap.String("actor_id", actor.ID))
	f := &realtime.Follower{
		Broker:       e.Broker,
		Source:       e.Repo,
		ActorID:      actor.ID,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
		OnFallback:   cfg.Metrics.Fallback,
	}
	err = f.Run(ctx, cursor, func(evt domain.Event) error {
		return write(formatSSE(evt))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("stream ended", zap.Int64("cursor", f.Cursor()), zap.Error(err))
	}
}

// streamCursor reads the resume point from Last-Event-ID or ?last_event_id.
// It returns -1 when the client sent neither.
func streamCursor(req *http.Request) (int64, error) {
	raw := strings.TrimSpace(req.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(req.URL.Query().Get("last_event_id"))
	}
	if raw == "" {
		return -1, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid last event id %q", raw)
	}
	return id, nil
}

func formatSSE(evt domain.Event) string {
	data, _ := json.Marshal(streamEvent(evt))
	return fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, data)
}
