package query

import (
	"context"
)

const getMetadata = `
SELECT job_id, story_bible, continuity_alerts, ai_decisions, updated_at
FROM novel_job_metadata
WHERE job_id = $1
`

func (q *Queries) GetMetadata(ctx context.Context, jobID string) (NovelJobMetadatum, error) {
	var i NovelJobMetadatum
	err := q.db.QueryRow(ctx, getMetadata, jobID).Scan(
		&i.JobID, &i.StoryBible, &i.ContinuityAlerts, &i.AiDecisions, &i.UpdatedAt)
	return i, err
}

const ensureMetadata = `
INSERT INTO novel_job_metadata (job_id) VALUES ($1)
ON CONFLICT (job_id) DO NOTHING
`

func (q *Queries) EnsureMetadata(ctx context.Context, jobID string) error {
	_, err := q.db.Exec(ctx, ensureMetadata, jobID)
	return err
}

const getMetadataForUpdate = getMetadata + `FOR UPDATE`

func (q *Queries) GetMetadataForUpdate(ctx context.Context, jobID string) (NovelJobMetadatum, error) {
	var i NovelJobMetadatum
	err := q.db.QueryRow(ctx, getMetadataForUpdate, jobID).Scan(
		&i.JobID, &i.StoryBible, &i.ContinuityAlerts, &i.AiDecisions, &i.UpdatedAt)
	return i, err
}

const updateMetadata = `
UPDATE novel_job_metadata SET
    story_bible       = $2,
    continuity_alerts = $3,
    ai_decisions      = $4,
    updated_at        = now()
WHERE job_id = $1
`

type UpdateMetadataParams struct {
	JobID            string
	StoryBible       []byte
	ContinuityAlerts []byte
	AiDecisions      []byte
}

func (q *Queries) UpdateMetadata(ctx context.Context, arg UpdateMetadataParams) error {
	_, err := q.db.Exec(ctx, updateMetadata, arg.JobID, arg.StoryBible, arg.ContinuityAlerts, arg.AiDecisions)
	return err
}
