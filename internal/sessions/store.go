// Package sessions persists conversation transcripts. Each session is two
// files under the sessions directory: an append-only JSONL transcript and a
// sidecar metadata record.
package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transcript event roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "tool_result"
)

// Meta is the sidecar metadata record for one session.
type Meta struct {
	Key       string    `json:"key"`
	AgentID   string    `json:"agentId"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TranscriptEvent is one line of a session transcript.
type TranscriptEvent struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	RunID       string    `json:"runId,omitempty"`
	ToolName    string    `json:"toolName,omitempty"`
	ExitCode    int       `json:"exitCode,omitempty"`
	Attachments int       `json:"attachments,omitempty"`
}

// Store manages session files under a single directory. Sessions are never
// deleted by the core; transcripts only grow.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the sessions directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Create mints a new session bound to agentID and writes its metadata.
func (s *Store) Create(agentID string) (*Meta, error) {
	now := time.Now().UTC()
	meta := &Meta{
		Key:       uuid.New().String(),
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeMeta(meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Get returns the session metadata, or nil when the key is unknown.
func (s *Store) Get(key string) (*Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMeta(key)
}

// List returns every readable session's metadata sorted newest-first by
// creation time. Malformed metadata files are skipped.
func (s *Store) List() ([]*Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var metas []*Meta
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".meta.json") {
			continue
		}
		key := strings.TrimSuffix(name, ".meta.json")
		meta, err := s.readMeta(key)
		if err != nil || meta == nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Touch bumps the session's updatedAt.
func (s *Store) Touch(key string) error {
	return s.updateMeta(key, func(meta *Meta) {
		meta.UpdatedAt = time.Now().UTC()
	})
}

// SetLabel sets the human label and bumps updatedAt.
func (s *Store) SetLabel(key, label string) error {
	return s.updateMeta(key, func(meta *Meta) {
		meta.Label = label
		meta.UpdatedAt = time.Now().UTC()
	})
}

// AppendEvent appends one transcript event and bumps updatedAt.
func (s *Store) AppendEvent(key string, event *TranscriptEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.transcriptPath(key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close transcript: %w", err)
	}

	meta, err := s.readMeta(key)
	if err != nil || meta == nil {
		return nil
	}
	meta.UpdatedAt = time.Now().UTC()
	return s.writeMeta(meta)
}

// ReadEvents returns the transcript's events in append order. Partial or
// malformed lines (a torn trailing write) are discarded silently. A limit
// above zero keeps only the most recent events.
func (s *Store) ReadEvents(key string, limit int) ([]*TranscriptEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.transcriptPath(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var events []*TranscriptEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event TranscriptEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (s *Store) transcriptPath(key string) string {
	return filepath.Join(s.dir, key+".jsonl")
}

func (s *Store) metaPath(key string) string {
	return filepath.Join(s.dir, key+".meta.json")
}

func (s *Store) readMeta(key string) (*Meta, error) {
	data, err := os.ReadFile(s.metaPath(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse session meta %s: %w", key, err)
	}
	return &meta, nil
}

func (s *Store) writeMeta(meta *Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session meta: %w", err)
	}
	if err := os.WriteFile(s.metaPath(meta.Key), data, 0o600); err != nil {
		return fmt.Errorf("write session meta: %w", err)
	}
	return nil
}

func (s *Store) updateMeta(key string, apply func(*Meta)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, err := s.readMeta(key)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("session %s not found", key)
	}
	apply(meta)
	return s.writeMeta(meta)
}
