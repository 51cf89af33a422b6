package query

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type NovelJob struct {
	JobID       string
	Status      string
	Payload     []byte
	Outline     []byte
	Chapters    []byte
	Summary     []byte
	Engine      []byte
	Failures    []byte
	QueueName   pgtype.Text
	RequestedAt pgtype.Timestamptz
	ReceivedAt  pgtype.Timestamptz
	CompletedAt pgtype.Timestamptz
	DurationMs  pgtype.Int8
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type NovelJobEvent struct {
	ID        pgtype.UUID
	JobID     string
	Kind      string
	Body      []byte
	EmittedAt time.Time
}

type NovelJobMetric struct {
	JobID             string
	CostTotalUsd      float64
	CostAnalysisUsd   float64
	CostOutlineUsd    float64
	CostChaptersUsd   float64
	TokensTotal       int64
	TokensAnalysis    int64
	TokensOutline     int64
	TokensChapters    int64
	LatencyTotalMs    int64
	LatencyAnalysisMs int64
	LatencyOutlineMs  int64
	LatencyChaptersMs int64
	UpdatedAt         time.Time
}

type NovelJobMetadatum struct {
	JobID            string
	StoryBible       []byte
	ContinuityAlerts []byte
	AiDecisions      []byte
	UpdatedAt        time.Time
}
