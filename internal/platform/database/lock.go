package database

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jinford/novelforge/internal/module/job/domain"
)

// LockManager はトランザクションスコープのアドバイザリロックを取得します
// ロックはコミットまたはロールバックで自動的に解放されます
type LockManager struct {
	tx pgx.Tx
}

// NewLockManager はトランザクションからロックマネージャーを生成します
func NewLockManager(tx pgx.Tx) *LockManager {
	return &LockManager{tx: tx}
}

var _ domain.LockManager = (*LockManager)(nil)

// GenerateLockID は文字列からロックIDを生成します
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	hash := h.Sum(nil)

	// ハッシュの最初の8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}
	return id
}

// Acquire は pg_advisory_xact_lock を取得します
func (m *LockManager) Acquire(ctx context.Context, lockID int64) error {
	if _, err := m.tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}

// AcquireJobLock はジョブ単位のロックを取得します
func (m *LockManager) AcquireJobLock(ctx context.Context, jobID string) error {
	return m.Acquire(ctx, GenerateLockID("novel-job", jobID))
}
