package testing

import (
	"context"

	"github.com/jinford/novelforge/internal/module/job/domain"
)

// MockEventLog はテスト用のモックEventLogです
type MockEventLog struct {
	AppendFunc func(ctx context.Context, record domain.EventRecord) (domain.EventRecord, error)
	ListFunc   func(ctx context.Context, jobID string, opts domain.ListOptions) ([]domain.EventRecord, error)
}

func (m *MockEventLog) Append(ctx context.Context, record domain.EventRecord) (domain.EventRecord, error) {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, record)
	}
	return record, nil
}

func (m *MockEventLog) List(ctx context.Context, jobID string, opts domain.ListOptions) ([]domain.EventRecord, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, jobID, opts)
	}
	return nil, nil
}

// MockJobRepository はテスト用のモックJobRepositoryです
type MockJobRepository struct {
	GetFunc                  func(ctx context.Context, jobID string) (*domain.Job, error)
	InitializeJobFunc        func(ctx context.Context, input domain.InitializeJobInput) (*domain.Job, error)
	SaveGenerationResultFunc func(ctx context.Context, result domain.GenerationResult) (*domain.Job, error)
	RecordFailureFunc        func(ctx context.Context, jobID string, input domain.FailureInput) (*domain.Job, error)
}

func (m *MockJobRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, jobID)
	}
	return nil, domain.ErrJobNotFound
}

func (m *MockJobRepository) InitializeJob(ctx context.Context, input domain.InitializeJobInput) (*domain.Job, error) {
	if m.InitializeJobFunc != nil {
		return m.InitializeJobFunc(ctx, input)
	}
	return &domain.Job{ID: input.JobID, Status: domain.JobStatusRunning}, nil
}

func (m *MockJobRepository) SaveGenerationResult(ctx context.Context, result domain.GenerationResult) (*domain.Job, error) {
	if m.SaveGenerationResultFunc != nil {
		return m.SaveGenerationResultFunc(ctx, result)
	}
	return &domain.Job{ID: result.JobID, Status: domain.JobStatusCompleted}, nil
}

func (m *MockJobRepository) RecordFailure(ctx context.Context, jobID string, input domain.FailureInput) (*domain.Job, error) {
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, jobID, input)
	}
	return &domain.Job{ID: jobID, Status: domain.JobStatusFailed}, nil
}

// MockMetricsRepository はテスト用のモックMetricsRepositoryです
type MockMetricsRepository struct {
	GetFunc             func(ctx context.Context, jobID string) (*domain.Metrics, error)
	IncrementCostsFunc  func(ctx context.Context, jobID string, delta domain.CostBreakdown) error
	IncrementTokensFunc func(ctx context.Context, jobID string, delta domain.TokenBreakdown) error
	UpdateLatencyFunc   func(ctx context.Context, jobID string, delta domain.LatencyBreakdown) error
	ResetFunc           func(ctx context.Context, jobID string) error
}

func (m *MockMetricsRepository) Get(ctx context.Context, jobID string) (*domain.Metrics, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, jobID)
	}
	return &domain.Metrics{JobID: jobID}, nil
}

func (m *MockMetricsRepository) IncrementCosts(ctx context.Context, jobID string, delta domain.CostBreakdown) error {
	if m.IncrementCostsFunc != nil {
		return m.IncrementCostsFunc(ctx, jobID, delta)
	}
	return nil
}

func (m *MockMetricsRepository) IncrementTokens(ctx context.Context, jobID string, delta domain.TokenBreakdown) error {
	if m.IncrementTokensFunc != nil {
		return m.IncrementTokensFunc(ctx, jobID, delta)
	}
	return nil
}

func (m *MockMetricsRepository) UpdateLatency(ctx context.Context, jobID string, delta domain.LatencyBreakdown) error {
	if m.UpdateLatencyFunc != nil {
		return m.UpdateLatencyFunc(ctx, jobID, delta)
	}
	return nil
}

func (m *MockMetricsRepository) Reset(ctx context.Context, jobID string) error {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, jobID)
	}
	return nil
}

// MockMetadataRepository はテスト用のモックMetadataRepositoryです
type MockMetadataRepository struct {
	GetFunc                    func(ctx context.Context, jobID string) (*domain.Metadata, error)
	UpsertStoryBibleFunc       func(ctx context.Context, jobID string, patch domain.StoryBiblePatch) (*domain.StoryBible, error)
	AddContinuityAlertFunc     func(ctx context.Context, jobID string, alert domain.ContinuityAlert) error
	ResolveContinuityAlertFunc func(ctx context.Context, jobID, alertID string) error
	AppendAIDecisionFunc       func(ctx context.Context, jobID string, decision domain.AIDecision) error
}

func (m *MockMetadataRepository) Get(ctx context.Context, jobID string) (*domain.Metadata, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, jobID)
	}
	return &domain.Metadata{JobID: jobID}, nil
}

func (m *MockMetadataRepository) UpsertStoryBible(ctx context.Context, jobID string, patch domain.StoryBiblePatch) (*domain.StoryBible, error) {
	if m.UpsertStoryBibleFunc != nil {
		return m.UpsertStoryBibleFunc(ctx, jobID, patch)
	}
	bible := domain.StoryBible{}.Apply(patch)
	return &bible, nil
}

func (m *MockMetadataRepository) AddContinuityAlert(ctx context.Context, jobID string, alert domain.ContinuityAlert) error {
	if m.AddContinuityAlertFunc != nil {
		return m.AddContinuityAlertFunc(ctx, jobID, alert)
	}
	return nil
}

func (m *MockMetadataRepository) ResolveContinuityAlert(ctx context.Context, jobID, alertID string) error {
	if m.ResolveContinuityAlertFunc != nil {
		return m.ResolveContinuityAlertFunc(ctx, jobID, alertID)
	}
	return nil
}

func (m *MockMetadataRepository) AppendAIDecision(ctx context.Context, jobID string, decision domain.AIDecision) error {
	if m.AppendAIDecisionFunc != nil {
		return m.AppendAIDecisionFunc(ctx, jobID, decision)
	}
	return nil
}

// MockBackend はテスト用のモックBackendです（トランザクション非対応）
type MockBackend struct {
	StoresFunc func() domain.Stores
}

func (m *MockBackend) Stores() domain.Stores {
	if m.StoresFunc != nil {
		return m.StoresFunc()
	}
	return domain.Stores{
		Events:   &MockEventLog{},
		Jobs:     &MockJobRepository{},
		Metrics:  &MockMetricsRepository{},
		Metadata: &MockMetadataRepository{},
	}
}

// MockTransactionalBackend はテスト用のモックTransactionalBackendです
type MockTransactionalBackend struct {
	MockBackend
	TransactFunc func(ctx context.Context, fn func(domain.Stores) error) error
}

func (m *MockTransactionalBackend) Transact(ctx context.Context, fn func(domain.Stores) error) error {
	if m.TransactFunc != nil {
		return m.TransactFunc(ctx, fn)
	}
	return fn(m.Stores())
}
