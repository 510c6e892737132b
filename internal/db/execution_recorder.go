// Package db adapts the teacher's MySQLRecorder/AssetSnapshotRecord
// (internal/db/transaction_recorder.go) into the optional execution-record
// append log of spec.md §6.6: every bundle submission outcome, never read
// back by the core at runtime (only operator tooling or ad-hoc queries read
// it back). The log only grows: rows are never capped, pruned or rotated.
package db

import (
	"fmt"
	"math/big"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

// ExecutionRecordRow is the GORM model for one ExecutionRecord, mirroring
// the teacher's AssetSnapshotRecord shape: big.Int/decimal quantities stored
// as varchar to avoid precision loss, everything else a native column.
type ExecutionRecordRow struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	OpportunityID   string    `gorm:"index;not null"`
	Strategy        string    `gorm:"index;not null"`
	Relay           string    `gorm:"not null"`
	BundleHash      string    `gorm:"not null"`
	SubmittedAt     time.Time `gorm:"index;not null"`
	Outcome         string    `gorm:"not null"`
	IncludedTxHash  string
	IncludedBlock   uint64
	RejectReason    string
	RealizedProfit  string `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	GasUsed         uint64
	ElapsedMS       int64
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (ExecutionRecordRow) TableName() string { return "execution_records" }

// Recorder persists ExecutionRecords into MySQL via GORM, same
// construction shape as the teacher's NewMySQLRecorder.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(dsn string) (*Recorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}
	if err := db.AutoMigrate(&ExecutionRecordRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

func NewRecorderWithDB(db *gorm.DB) (*Recorder, error) {
	if err := db.AutoMigrate(&ExecutionRecordRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Record appends one execution outcome. This log is append-only: the core
// never queries it back (§6.6), so no update/upsert path exists here.
func (r *Recorder) Record(rec coretypes.ExecutionRecord) error {
	row := ExecutionRecordRow{
		OpportunityID:  rec.OpportunityID,
		Strategy:       string(rec.Strategy),
		Relay:          rec.Relay,
		BundleHash:     rec.BundleHash.Hex(),
		SubmittedAt:    rec.SubmittedAt,
		Outcome:        string(rec.Outcome),
		IncludedTxHash: rec.IncludedTxHash.Hex(),
		IncludedBlock:  rec.IncludedBlock,
		RejectReason:   rec.RejectReason,
		RealizedProfit: bigIntToString(rec.RealizedProfit),
		GasUsed:        rec.GasUsed,
		ElapsedMS:      rec.ElapsedMS,
	}
	if result := r.db.Create(&row); result.Error != nil {
		return fmt.Errorf("record execution: %w", result.Error)
	}
	return nil
}

func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying db: %w", err)
	}
	return sqlDB.Close()
}

func bigIntToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// CountRecords mirrors the teacher's CountSnapshots, kept for operator
// tooling that audits the append log out of band from the core.
func (r *Recorder) CountRecords() (int64, error) {
	var count int64
	if result := r.db.Model(&ExecutionRecordRow{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("count execution records: %w", result.Error)
	}
	return count, nil
}
