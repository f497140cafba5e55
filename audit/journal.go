package audit

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"omnivault/native/fuses"
)

// BatchStatus records how a batch left the engine.
type BatchStatus string

const (
	// StatusCommitted marks a batch whose effects reached state.
	StatusCommitted BatchStatus = "COMMITTED"
	// StatusRejected marks a batch discarded without effect.
	StatusRejected BatchStatus = "REJECTED"
)

// Batch is one journalled execution attempt. Amounts are stored as decimal
// strings because nothing downstream does arithmetic on them.
type Batch struct {
	ID                uuid.UUID   `gorm:"type:uuid;primaryKey"`
	Digest            string      `gorm:"size:66;index"`
	Caller            string      `gorm:"size:42;index"`
	Status            BatchStatus `gorm:"size:16;index"`
	Error             string      `gorm:"type:text"`
	RewardOnly        bool
	TotalAssetsBefore string `gorm:"size:80"`
	TotalAssetsAfter  string `gorm:"size:80"`
	DurationMicros    int64
	Actions           []ActionRecord
	CreatedAt         time.Time
}

// ActionRecord is the per-action detail row of a committed batch.
type ActionRecord struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	BatchID  uuid.UUID `gorm:"type:uuid;index"`
	Position int
	Fuse     string `gorm:"size:42"`
	Market   uint64
	Op       string `gorm:"size:24"`
	Noop     bool
	Asset    string `gorm:"size:42"`
	Amount   string `gorm:"size:80"`
	Out      string `gorm:"size:80"`
}

// AutoMigrate performs the journal schema migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Batch{}, &ActionRecord{})
}

// Journal persists batch outcomes for operators and auditors. It is an
// off-to-the-side record: the engine never reads it back.
type Journal struct {
	db *gorm.DB
}

// Open connects to the journal database. Postgres URLs get the postgres
// driver; anything else is treated as a SQLite path or DSN.
func Open(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("audit: empty dsn")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("audit: open journal: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// NewJournal wraps an existing gorm handle, migrating the schema.
func NewJournal(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: nil database")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Entry is the journal input assembled at the call site.
type Entry struct {
	Digest      common.Hash
	Caller      common.Address
	Err         error
	RewardOnly  bool
	Receipts    []*fuses.Receipt
	TotalBefore *big.Int
	TotalAfter  *big.Int
	Duration    time.Duration
}

// RecordBatch writes one execution attempt, returning the journal row id.
func (j *Journal) RecordBatch(ctx context.Context, entry Entry) (uuid.UUID, error) {
	batch := Batch{
		ID:                uuid.New(),
		Digest:            entry.Digest.Hex(),
		Caller:            strings.ToLower(entry.Caller.Hex()),
		Status:            StatusCommitted,
		RewardOnly:        entry.RewardOnly,
		TotalAssetsBefore: formatAmount(entry.TotalBefore),
		TotalAssetsAfter:  formatAmount(entry.TotalAfter),
		DurationMicros:    entry.Duration.Microseconds(),
	}
	if entry.Err != nil {
		batch.Status = StatusRejected
		batch.Error = entry.Err.Error()
	}
	for i, receipt := range entry.Receipts {
		if receipt == nil {
			continue
		}
		batch.Actions = append(batch.Actions, ActionRecord{
			ID:       uuid.New(),
			BatchID:  batch.ID,
			Position: i,
			Fuse:     strings.ToLower(receipt.Fuse.Hex()),
			Market:   receipt.Market,
			Op:       receipt.Op,
			Noop:     receipt.Noop,
			Asset:    strings.ToLower(receipt.Asset.Hex()),
			Amount:   formatAmount(receipt.Amount),
			Out:      formatAmount(receipt.Out),
		})
	}
	if err := j.db.WithContext(ctx).Create(&batch).Error; err != nil {
		return uuid.Nil, fmt.Errorf("audit: record batch: %w", err)
	}
	return batch.ID, nil
}

// Recent returns the newest batches with their actions, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	var batches []Batch
	err := j.db.WithContext(ctx).
		Preload("Actions", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
		Order("created_at DESC").
		Limit(limit).
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("audit: list batches: %w", err)
	}
	return batches, nil
}

// ByDigest returns every attempt recorded for a batch digest.
func (j *Journal) ByDigest(ctx context.Context, digest string) ([]Batch, error) {
	var batches []Batch
	err := j.db.WithContext(ctx).
		Preload("Actions", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
		Where("digest = ?", strings.TrimSpace(digest)).
		Order("created_at DESC").
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("audit: batches by digest: %w", err)
	}
	return batches, nil
}

// Window returns every batch recorded at or after since, oldest first, with
// actions attached. Export tooling walks this in one pass.
func (j *Journal) Window(ctx context.Context, since time.Time) ([]Batch, error) {
	var batches []Batch
	err := j.db.WithContext(ctx).
		Preload("Actions", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("audit: batches in window: %w", err)
	}
	return batches, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
