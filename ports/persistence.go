package ports

import (
	"context"

	"tutorlab/domain/core"
	"tutorlab/domain/dialogue"
)

// SessionSink is the persistence collaborator. The storage format is the
// adapter's concern; the orchestrator only promises to record every turn as
// it completes and to seal each session exactly once.
type SessionSink interface {
	RecordTurn(ctx context.Context, sessionID core.SessionID, turn dialogue.Turn) error
	SealSession(ctx context.Context, session *dialogue.Session) error
}

// NopSink discards everything; used when durable storage is not configured
type NopSink struct{}

func (NopSink) RecordTurn(ctx context.Context, sessionID core.SessionID, turn dialogue.Turn) error {
	return nil
}

func (NopSink) SealSession(ctx context.Context, session *dialogue.Session) error {
	return nil
}
