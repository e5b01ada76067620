// Package report records human-readable evidence (title + content) for the
// audit trail of a validation run.
package report

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Record is one piece of evidence.
type Record struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Sink accepts evidence records. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }

// LogSink writes records to a zap logger.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Record(_ context.Context, rec Record) error {
	if s.Logger == nil {
		return nil
	}
	s.Logger.Info("evidence", zap.String("title", rec.Title), zap.String("content", rec.Content))
	return nil
}

// Memory keeps records in order; used by tests and by the API to show run evidence.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (m *Memory) Record(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Titles returns the titles recorded so far, in order.
func (m *Memory) Titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.records))
	for i, r := range m.records {
		out[i] = r.Title
	}
	return out
}

// Fanout forwards each record to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit records to sink and logs, instead of returning, a sink failure. Evidence
// is best effort and never changes the outcome of the step it describes.
func Emit(ctx context.Context, sink Sink, logger *zap.Logger, title, content string) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, Record{Title: title, Content: content}); err != nil && logger != nil {
		logger.Warn("cannot record evidence", zap.String("title", title), zap.Error(err))
	}
}
