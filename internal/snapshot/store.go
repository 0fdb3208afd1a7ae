package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ErrNotFound is returned when an artifact id is unknown.
var ErrNotFound = errors.New("artifact not found")

// Kind names what an artifact captured.
type Kind string

const (
	KindScreenshot Kind = "screenshot"
	KindPageSource Kind = "page_source"
	KindMeetLog    Kind = "meet_log"
	KindRTPStats   Kind = "rtp_stats"
)

// Format is the file extension used for artifacts of kind k.
func (k Kind) Format() string {
	switch k {
	case KindScreenshot:
		return "png"
	case KindPageSource:
		return "html"
	default:
		return "json"
	}
}

// Artifact describes one stored diagnostics file.
type Artifact struct {
	ID          string    `json:"id"`
	Scenario    string    `json:"scenario"`
	Participant string    `json:"participant"`
	Kind        Kind      `json:"kind"`
	Format      string    `json:"format"`
	SizeBytes   int       `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	Reason      string    `json:"reason,omitempty"`
	URL         string    `json:"url,omitempty"`
}

// NewArtifact returns metadata with a fresh id for a capture of kind.
func NewArtifact(scenario, participant string, kind Kind) Artifact {
	return Artifact{
		ID:          uuid.NewString(),
		Scenario:    scenario,
		Participant: participant,
		Kind:        kind,
		Format:      kind.Format(),
		CreatedAt:   time.Now().UTC(),
	}
}

// Store manages diagnostics files on disk. Each artifact is a data file
// plus a JSON metadata sidecar.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory artifacts are written to.
func (s *Store) Dir() string { return s.dir }

func (s *Store) validateID(id string) error {
	if !uuidRe.MatchString(id) {
		return fmt.Errorf("invalid artifact id: %q", id)
	}
	return nil
}

// Save writes the data file and its metadata sidecar and returns the
// stored metadata.
func (s *Store) Save(meta Artifact, data []byte) (Artifact, error) {
	if err := s.validateID(meta.ID); err != nil {
		return Artifact{}, err
	}
	if meta.Format == "" {
		meta.Format = meta.Kind.Format()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.SizeBytes = len(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	dataPath := filepath.Join(s.dir, meta.ID+"."+meta.Format)
	jsonPath := filepath.Join(s.dir, meta.ID+".json")

	if err := os.WriteFile(dataPath, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("snapshot store: write data: %w", err)
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(dataPath)
		return Artifact{}, fmt.Errorf("snapshot store: marshal meta: %w", err)
	}
	if err := os.WriteFile(jsonPath, raw, 0o644); err != nil {
		_ = os.Remove(dataPath)
		return Artifact{}, fmt.Errorf("snapshot store: write meta: %w", err)
	}
	return meta, nil
}

// Get reads artifact metadata by id.
func (s *Store) Get(id string) (Artifact, error) {
	if err := s.validateID(id); err != nil {
		return Artifact{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMeta(filepath.Join(s.dir, id+".json"))
}

func (s *Store) readMeta(path string) (Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return Artifact{}, fmt.Errorf("snapshot store: read meta: %w", err)
	}
	var meta Artifact
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Artifact{}, fmt.Errorf("snapshot store: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns all artifacts, newest first. A non-empty scenario limits
// the result to that scenario.
func (s *Store) List(scenario string) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: glob: %w", err)
	}

	out := make([]Artifact, 0, len(matches))
	for _, path := range matches {
		if !uuidRe.MatchString(strings.TrimSuffix(filepath.Base(path), ".json")) {
			continue
		}
		meta, err := s.readMeta(path)
		if err != nil {
			slog.Debug("skipping unreadable artifact", "path", path, "error", err)
			continue
		}
		if scenario != "" && meta.Scenario != scenario {
			continue
		}
		out = append(out, meta)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Read returns the artifact's data together with its metadata.
func (s *Store) Read(id string) ([]byte, Artifact, error) {
	meta, err := s.Get(id)
	if err != nil {
		return nil, Artifact{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, id+"."+meta.Format))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Artifact{}, fmt.Errorf("%w: data for %s", ErrNotFound, id)
		}
		return nil, Artifact{}, fmt.Errorf("snapshot store: read data: %w", err)
	}
	return data, meta, nil
}

// Delete removes the data file and its sidecar.
func (s *Store) Delete(id string) error {
	meta, err := s.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, id+"."+meta.Format)); err != nil {
		slog.Debug("artifact data cleanup failed", "id", id, "error", err)
	}
	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil {
		return fmt.Errorf("snapshot store: remove meta: %w", err)
	}
	return nil
}
