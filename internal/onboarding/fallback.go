package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	ModeMerge   = "merge"
	ModeDiscard = "discard"
)

// ErrNoFallback means nothing is stored for the user.
var ErrNoFallback = errors.New("no onboarding fallback stored")

// Fallback is a failed onboarding submission kept for manual recovery.
type Fallback struct {
	UserID    string          `json:"user_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	Error     string          `json:"error"`
}

// Store keeps one JSON file per user under Dir. Stored submissions are never
// applied automatically.
type Store struct {
	Dir string
	Now func() time.Time
}

// NewStore places fallbacks under <workspace>/.ugchub/onboarding_fallback.
func NewStore(workspace string) Store {
	if workspace == "" {
		workspace = "."
	}
	return Store{Dir: filepath.Join(workspace, ".ugchub", "onboarding_fallback")}
}

func (s Store) path(userID string) (string, error) {
	id := strings.TrimSpace(userID)
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid user id %q", userID)
	}
	return filepath.Join(s.Dir, id+".json"), nil
}

// Save records data and the error that prevented its submission.
func (s Store) Save(userID string, data any, cause error) error {
	p, err := s.path(userID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal onboarding data: %w", err)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	fb := Fallback{UserID: userID, Data: raw, Timestamp: now().UTC().Format(time.RFC3339)}
	if cause != nil {
		fb.Error = cause.Error()
	}
	out, err := json.MarshalIndent(fb, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s Store) Load(userID string) (Fallback, error) {
	p, err := s.path(userID)
	if err != nil {
		return Fallback{}, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return Fallback{}, ErrNoFallback
	}
	if err != nil {
		return Fallback{}, err
	}
	var fb Fallback
	if err := json.Unmarshal(data, &fb); err != nil {
		return Fallback{}, fmt.Errorf("decode fallback %s: %w", p, err)
	}
	return fb, nil
}

func (s Store) Discard(userID string) error {
	p, err := s.path(userID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Submitter re-submits stored onboarding data.
type Submitter func(ctx context.Context, data json.RawMessage) error

// Recover resolves a stored fallback. ModeMerge re-submits the data and
// deletes the file only when that succeeds; ModeDiscard just deletes it.
func (s Store) Recover(ctx context.Context, userID, mode string, submit Submitter) error {
	fb, err := s.Load(userID)
	if err != nil {
		return err
	}
	switch mode {
	case ModeDiscard:
		return s.Discard(userID)
	case ModeMerge:
		if submit == nil {
			return errors.New("submitter required for merge")
		}
		if err := submit(ctx, fb.Data); err != nil {
			return fmt.Errorf("re-submit onboarding for %s: %w", userID, err)
		}
		return s.Discard(userID)
	default:
		return fmt.Errorf("unknown recovery mode %q (want merge or discard)", mode)
	}
}
