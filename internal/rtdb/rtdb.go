// Package rtdb defines the Writer port this core uses to publish a
// thread's final, persisted messages and ensure a chat thread exists on
// the Firestore/RTDB side (SPEC_FULL.md §4.[ADD] "RTDB writer and
// document store port"). The wire protocol to that store is explicitly
// out of scope for this core (spec.md §1) — only this interface is.
package rtdb

import (
	"context"

	"github.com/kabsikabs/agentcore/internal/domain/model"
)

// FinalMessage is the durable record mirrored to the document store once
// a turn's assistant reply is finalized (spec.md §4.3 "final content is
// mirrored to the document layer for clients that read it directly").
type FinalMessage struct {
	Thread    model.ThreadKey
	MessageID model.MessageID
	Role      model.MessageRole
	Content   string
	ToolName  string
}

// Writer publishes finalized messages and thread metadata to the
// document store. Implementations must be safe for concurrent use.
type Writer interface {
	// EnsureThread creates the document-store-side thread record if it
	// doesn't already exist (spec.md §4.6 step b, called once per task
	// execution before the Workflow Executor's first turn).
	EnsureThread(ctx context.Context, thread model.ThreadKey, chatMode model.ChatMode) error
	// WriteFinalMessage mirrors one finalized message.
	WriteFinalMessage(ctx context.Context, msg FinalMessage) error
}
