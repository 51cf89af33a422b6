package pg

import (
	"github.com/jinford/novelforge/internal/module/job/adapter/pg/query"
	"github.com/jinford/novelforge/internal/module/job/domain"
)

// NewStores は1つの接続（またはトランザクション）上にストア群を構築します
// Locks は呼び出し側で設定します
func NewStores(db query.DBTX) domain.Stores {
	q := query.New(db)
	return domain.Stores{
		Events:   NewEventLog(q),
		Jobs:     NewJobRepository(q),
		Metrics:  NewMetricsRepository(q),
		Metadata: NewMetadataRepository(q),
	}
}
