package testing

import (
	"context"
	"sync"

	"github.com/jinford/novelforge/internal/module/job/domain"
)

// MockPublisher は Publish の呼び出しを記録するモックです
type MockPublisher struct {
	PublishFunc func(ctx context.Context, record domain.EventRecord)

	mu        sync.Mutex
	published []domain.EventRecord
}

func (m *MockPublisher) Publish(ctx context.Context, record domain.EventRecord) {
	m.mu.Lock()
	m.published = append(m.published, record)
	m.mu.Unlock()

	if m.PublishFunc != nil {
		m.PublishFunc(ctx, record)
	}
}

// Published は記録されたレコードを呼び出し順に返します
func (m *MockPublisher) Published() []domain.EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventRecord, len(m.published))
	copy(out, m.published)
	return out
}

// MockProgressReporter は進捗報告を記録するモックです
type MockProgressReporter struct {
	ReportProgressFunc func(ctx context.Context, jobID string, progress any) error

	mu      sync.Mutex
	reports []any
}

func (m *MockProgressReporter) ReportProgress(ctx context.Context, jobID string, progress any) error {
	m.mu.Lock()
	m.reports = append(m.reports, progress)
	m.mu.Unlock()

	if m.ReportProgressFunc != nil {
		return m.ReportProgressFunc(ctx, jobID, progress)
	}
	return nil
}

// Reports は記録された進捗を返します
func (m *MockProgressReporter) Reports() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.reports))
	copy(out, m.reports)
	return out
}
