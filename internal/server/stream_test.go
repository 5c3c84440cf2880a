package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ugchub/internal/catalog"
	"ugchub/internal/db"
	"ugchub/internal/domain"
	"ugchub/internal/engine"
	"ugchub/internal/engine/auth"
	"ugchub/internal/migrate"
)

// releasedWriter records writes that happen after the handler returned.
type releasedWriter struct {
	*httptest.ResponseRecorder
	mu       sync.Mutex
	released bool
	pings    int
	late     int
}

func (w *releasedWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		w.late++
	} else {
		w.pings++
	}
	return len(b), nil
}

func (w *releasedWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		w.late++
	}
}

func (w *releasedWriter) release() {
	w.mu.Lock()
	w.released = true
	w.mu.Unlock()
}

func (w *releasedWriter) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pings, w.late
}

func TestStreamHeartbeatStopsBeforeHandlerReturns(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	cfg := Config{
		Engine:       engine.New(conn, db.SQLite, catalog.Default(), nil),
		PollInterval: time.Hour,
		Heartbeat:    time.Millisecond,
		Logger:       zap.NewNop(),
	}

	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(withPrincipal(context.Background(), Principal{
			Actor: auth.Actor{ID: "ana-1", Role: domain.RoleAnalyst}, Source: "jwt",
		}))
		req := httptest.NewRequest(http.MethodGet, "/v0/stream", nil).WithContext(ctx)
		req.Header.Set("Last-Event-ID", "0")
		w := &releasedWriter{ResponseRecorder: httptest.NewRecorder()}

		done := make(chan struct{})
		go func() {
			defer close(done)
			serveStream(w, req, cfg)
		}()
		require.Eventually(t, func() bool {
			pings, _ := w.counts()
			return pings > 1
		}, 2*time.Second, time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("stream handler did not return")
		}
		w.release()
		time.Sleep(5 * time.Millisecond)
		_, late := w.counts()
		assert.Zero(t, late, "write after handler returned")
	}
}
