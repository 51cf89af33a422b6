// Package memory はプロセス内メモリ上のジョブストア実装です
// demo コマンドとテストで使用します
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/novelforge/internal/module/job/domain"
)

var (
	_ domain.TransactionalBackend = (*Backend)(nil)
	_ domain.Backend              = (*plainBackend)(nil)
)

type storedEvent struct {
	seq    int64
	record domain.EventRecord
}

// state はストア全体のデータです
type state struct {
	jobs     map[string]*domain.Job
	events   map[string][]storedEvent
	eventIDs map[uuid.UUID]struct{}
	metrics  map[string]*domain.Metrics
	metadata map[string]*domain.Metadata
	seq      int64
}

func newState() *state {
	return &state{
		jobs:     make(map[string]*domain.Job),
		events:   make(map[string][]storedEvent),
		eventIDs: make(map[uuid.UUID]struct{}),
		metrics:  make(map[string]*domain.Metrics),
		metadata: make(map[string]*domain.Metadata),
	}
}

func (s *state) clone() *state {
	c := &state{
		jobs:     make(map[string]*domain.Job, len(s.jobs)),
		events:   make(map[string][]storedEvent, len(s.events)),
		eventIDs: maps.Clone(s.eventIDs),
		metrics:  make(map[string]*domain.Metrics, len(s.metrics)),
		metadata: make(map[string]*domain.Metadata, len(s.metadata)),
		seq:      s.seq,
	}
	for id, j := range s.jobs {
		c.jobs[id] = cloneJob(j)
	}
	for id, evs := range s.events {
		c.events[id] = slices.Clone(evs)
	}
	for id, m := range s.metrics {
		mm := *m
		c.metrics[id] = &mm
	}
	for id, md := range s.metadata {
		c.metadata[id] = cloneMetadata(md)
	}
	return c
}

type op func(st *state) error

// Option は Backend のオプションです
type Option func(*Backend)

// WithClock は時刻の取得元を差し替えます
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// Backend はトランザクション対応のメモリバックエンドです
// トランザクション内の書き込みは作業用コピーに適用され、コミット時にまとめて本体へ再適用されます
type Backend struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	st   *state
	now  func() time.Time
}

// NewBackend は空のメモリバックエンドを作成します
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		st:  newState(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Stores は本体に直接書き込むストア群を返します
func (b *Backend) Stores() domain.Stores {
	return newStores(&liveExecutor{b: b}, b.now)
}

// Transact は fn 内の書き込みを原子的にコミットします
// fn がエラーを返した場合は何も反映しません
func (b *Backend) Transact(ctx context.Context, fn func(domain.Stores) error) error {
	b.txMu.Lock()
	defer b.txMu.Unlock()

	b.mu.RLock()
	work := b.st.clone()
	b.mu.RUnlock()

	tx := &txExecutor{work: work}
	if err := fn(newStores(tx, b.now)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.st.clone()
	for _, o := range tx.journal {
		if err := o(next); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
	}
	b.st = next
	return nil
}

// WithoutTransactions はトランザクション機能を持たない Backend として b を公開します
func WithoutTransactions(b *Backend) domain.Backend {
	return &plainBackend{b: b}
}

type plainBackend struct {
	b *Backend
}

func (p *plainBackend) Stores() domain.Stores {
	return p.b.Stores()
}

// executor は op の適用先を抽象化します
type executor interface {
	write(o op) error
	read(fn func(st *state))
}

type liveExecutor struct {
	b *Backend
}

func (e *liveExecutor) write(o op) error {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	return o(e.b.st)
}

func (e *liveExecutor) read(fn func(st *state)) {
	e.b.mu.RLock()
	defer e.b.mu.RUnlock()
	fn(e.b.st)
}

type txExecutor struct {
	mu      sync.Mutex
	work    *state
	journal []op
}

func (e *txExecutor) write(o op) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := o(e.work); err != nil {
		return err
	}
	e.journal = append(e.journal, o)
	return nil
}

func (e *txExecutor) read(fn func(st *state)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.work)
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	c.Outline = slices.Clone(j.Outline)
	c.Chapters = cloneChapters(j.Chapters)
	c.Failures = slices.Clone(j.Failures)
	c.Engine = maps.Clone(j.Engine)
	if j.Summary != nil {
		s := *j.Summary
		c.Summary = &s
	}
	return &c
}

// cloneChapters は各章の試行履歴まで複製します
func cloneChapters(chapters []domain.Chapter) []domain.Chapter {
	if chapters == nil {
		return nil
	}
	c := make([]domain.Chapter, len(chapters))
	for i, ch := range chapters {
		ch.Attempts = slices.Clone(ch.Attempts)
		c[i] = ch
	}
	return c
}

func cloneMetadata(m *domain.Metadata) *domain.Metadata {
	c := *m
	c.StoryBible = m.StoryBible.Apply(domain.StoryBiblePatch{})
	c.ContinuityAlerts = slices.Clone(m.ContinuityAlerts)
	c.AIDecisions = slices.Clone(m.AIDecisions)
	return &c
}
