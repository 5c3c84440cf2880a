package retry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Classify reports whether err is worth retrying, with a short kind label
// for logs.
func Classify(err error) (bool, string) {
	if err == nil {
		return false, ""
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code >= 500 || statusErr.Code == 429 {
			return true, "server_error"
		}
		return false, "client_error"
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint") {
		return false, "duplicate_key"
	}
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") {
		return true, "db_busy"
	}
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return true, "connection_error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	return false, "unknown_error"
}

// StatusError carries an HTTP status so Classify can tell server faults from
// client mistakes.
type StatusError struct {
	Code int
	Msg  string
}

func (e StatusError) Error() string {
	return e.Msg
}

type Policy struct {
	Attempts int
	Backoff  time.Duration
}

// Default is three attempts with a linear 500ms backoff.
var Default = Policy{Attempts: 3, Backoff: 500 * time.Millisecond}

// Do runs fn until it succeeds, returns a non-retriable error, runs out of
// attempts or ctx ends. The wait before attempt n+1 is n*Backoff.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ok, _ := Classify(err); !ok || attempt == p.Attempts {
			return err
		}
		t := time.NewTimer(time.Duration(attempt) * p.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}
