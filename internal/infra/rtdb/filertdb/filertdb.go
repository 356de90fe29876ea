// Package filertdb is a file-backed rtdb.Writer standing in for the
// out-of-scope Firestore/RTDB client (SPEC_FULL.md §4.[ADD]): it mirrors
// each thread to one JSON file under a base directory, enough for a
// local or single-node deployment and for tests to assert on what would
// have been published.
package filertdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/rtdb"
)

// Writer persists thread mirrors as JSON files under dir.
type Writer struct {
	dir string
	mu  sync.Mutex
}

// New builds a Writer rooted at dir, creating it if necessary.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filertdb: create %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

type threadMirror struct {
	Thread   model.ThreadKey   `json:"thread"`
	ChatMode model.ChatMode    `json:"chat_mode"`
	Messages []rtdb.FinalMessage `json:"messages"`
}

func (w *Writer) path(thread model.ThreadKey) string {
	return filepath.Join(w.dir, thread.CompanyID+"_"+thread.ThreadKey+".json")
}

// EnsureThread creates the mirror file if it doesn't already exist.
func (w *Writer) EnsureThread(ctx context.Context, thread model.ThreadKey, chatMode model.ChatMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.path(thread)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	mirror := threadMirror{Thread: thread, ChatMode: chatMode}
	return w.write(path, mirror)
}

// WriteFinalMessage appends msg to its thread's mirror file.
func (w *Writer) WriteFinalMessage(ctx context.Context, msg rtdb.FinalMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.path(msg.Thread)
	mirror, err := w.read(path)
	if err != nil {
		return err
	}
	mirror.Thread = msg.Thread
	mirror.Messages = append(mirror.Messages, msg)
	return w.write(path, mirror)
}

func (w *Writer) read(path string) (threadMirror, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return threadMirror{}, nil
	}
	if err != nil {
		return threadMirror{}, fmt.Errorf("filertdb: read %s: %w", path, err)
	}
	var mirror threadMirror
	if err := json.Unmarshal(raw, &mirror); err != nil {
		return threadMirror{}, fmt.Errorf("filertdb: decode %s: %w", path, err)
	}
	return mirror, nil
}

func (w *Writer) write(path string, mirror threadMirror) error {
	raw, err := json.MarshalIndent(mirror, "", "  ")
	if err != nil {
		return fmt.Errorf("filertdb: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("filertdb: write %s: %w", path, err)
	}
	return nil
}

var _ rtdb.Writer = (*Writer)(nil)
