package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jinford/novelforge/internal/infra/postgres"
	"github.com/jinford/novelforge/internal/module/job/adapter/pg/query"
	"github.com/jinford/novelforge/internal/module/job/domain"
)

// MetadataRepository は novel_job_metadata の永続化アダプターです
// 更新は行ロック（SELECT ... FOR UPDATE）下での読み込み・変更・書き込みで行います
type MetadataRepository struct {
	q query.Querier
}

// NewMetadataRepository は新しいメタデータリポジトリを作成します
func NewMetadataRepository(q query.Querier) *MetadataRepository {
	return &MetadataRepository{q: q}
}

var _ domain.MetadataRepository = (*MetadataRepository)(nil)

// Get はメタデータを返します（未記録の場合は空）
func (r *MetadataRepository) Get(ctx context.Context, jobID string) (*domain.Metadata, error) {
	row, err := r.q.GetMetadata(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.Metadata{
				JobID:            jobID,
				StoryBible:       domain.StoryBible{}.Apply(domain.StoryBiblePatch{}),
				ContinuityAlerts: []domain.ContinuityAlert{},
				AIDecisions:      []domain.AIDecision{},
			}, nil
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	return metadataFromRow(row)
}

func (r *MetadataRepository) update(ctx context.Context, jobID string, fn func(md *domain.Metadata) error) error {
	return r.q.InTx(ctx, func(q query.Querier) error {
		if err := q.EnsureMetadata(ctx, jobID); err != nil {
			return fmt.Errorf("failed to ensure metadata: %w", err)
		}
		row, err := q.GetMetadataForUpdate(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to lock metadata: %w", err)
		}
		md, err := metadataFromRow(row)
		if err != nil {
			return err
		}
		if err := fn(md); err != nil {
			return err
		}

		params := query.UpdateMetadataParams{JobID: jobID}
		if params.StoryBible, err = postgres.MarshalJSONB(md.StoryBible); err != nil {
			return err
		}
		if params.ContinuityAlerts, err = postgres.MarshalJSONB(nonNil(md.ContinuityAlerts)); err != nil {
			return err
		}
		if params.AiDecisions, err = postgres.MarshalJSONB(nonNil(md.AIDecisions)); err != nil {
			return err
		}
		if err := q.UpdateMetadata(ctx, params); err != nil {
			return fmt.Errorf("failed to update metadata: %w", err)
		}
		return nil
	})
}

// UpsertStoryBible はストーリーバイブルにパッチをマージします
func (r *MetadataRepository) UpsertStoryBible(ctx context.Context, jobID string, patch domain.StoryBiblePatch) (*domain.StoryBible, error) {
	var out domain.StoryBible
	err := r.update(ctx, jobID, func(md *domain.Metadata) error {
		md.StoryBible = md.StoryBible.Apply(patch)
		out = md.StoryBible
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddContinuityAlert はアラートを先頭に追加します
func (r *MetadataRepository) AddContinuityAlert(ctx context.Context, jobID string, alert domain.ContinuityAlert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	return r.update(ctx, jobID, func(md *domain.Metadata) error {
		md.ContinuityAlerts = domain.PushAlert(md.ContinuityAlerts, alert)
		return nil
	})
}

// ResolveContinuityAlert はアラートを解決済みにします
func (r *MetadataRepository) ResolveContinuityAlert(ctx context.Context, jobID, alertID string) error {
	at := time.Now().UTC()
	return r.update(ctx, jobID, func(md *domain.Metadata) error {
		alerts, err := domain.ResolveAlert(md.ContinuityAlerts, alertID, at)
		if err != nil {
			return err
		}
		md.ContinuityAlerts = alerts
		return nil
	})
}

// AppendAIDecision はAI判断を先頭に追加します
func (r *MetadataRepository) AppendAIDecision(ctx context.Context, jobID string, decision domain.AIDecision) error {
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}
	return r.update(ctx, jobID, func(md *domain.Metadata) error {
		md.AIDecisions = domain.PushDecision(md.AIDecisions, decision)
		return nil
	})
}

func metadataFromRow(row query.NovelJobMetadatum) (*domain.Metadata, error) {
	md := &domain.Metadata{
		JobID:            row.JobID,
		ContinuityAlerts: []domain.ContinuityAlert{},
		AIDecisions:      []domain.AIDecision{},
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
	var bible domain.StoryBible
	if err := postgres.UnmarshalJSONB(row.StoryBible, &bible); err != nil {
		return nil, fmt.Errorf("failed to decode story bible: %w", err)
	}
	// Characters を nil でないマップに揃える
	md.StoryBible = bible.Apply(domain.StoryBiblePatch{})

	if err := postgres.UnmarshalJSONB(row.ContinuityAlerts, &md.ContinuityAlerts); err != nil {
		return nil, fmt.Errorf("failed to decode continuity alerts: %w", err)
	}
	if err := postgres.UnmarshalJSONB(row.AiDecisions, &md.AIDecisions); err != nil {
		return nil, fmt.Errorf("failed to decode ai decisions: %w", err)
	}
	return md, nil
}
