// Package memrtdb is an in-process rtdb.Writer used by tests.
package memrtdb

import (
	"context"
	"sync"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/rtdb"
)

// Writer records calls in memory.
type Writer struct {
	mu       sync.Mutex
	threads  map[string]model.ChatMode
	messages map[string][]rtdb.FinalMessage
}

// New builds an empty Writer.
func New() *Writer {
	return &Writer{threads: map[string]model.ChatMode{}, messages: map[string][]rtdb.FinalMessage{}}
}

func (w *Writer) EnsureThread(_ context.Context, thread model.ThreadKey, chatMode model.ChatMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.threads[thread.String()]; !ok {
		w.threads[thread.String()] = chatMode
	}
	return nil
}

func (w *Writer) WriteFinalMessage(_ context.Context, msg rtdb.FinalMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages[msg.Thread.String()] = append(w.messages[msg.Thread.String()], msg)
	return nil
}

// Messages returns the recorded messages for thread, for test assertions.
func (w *Writer) Messages(thread model.ThreadKey) []rtdb.FinalMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]rtdb.FinalMessage(nil), w.messages[thread.String()]...)
}

// HasThread reports whether EnsureThread has been called for thread.
func (w *Writer) HasThread(thread model.ThreadKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.threads[thread.String()]
	return ok
}

var _ rtdb.Writer = (*Writer)(nil)
