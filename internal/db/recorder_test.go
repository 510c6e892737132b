package db

import (
	"math/big"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

func TestRecorder_Record(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer sqlDB.Close()

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to create gorm DB: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `execution_records`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	recorder := &Recorder{db: gormDB}

	rec := coretypes.ExecutionRecord{
		OpportunityID:  "opp-1",
		Strategy:       coretypes.StrategySandwich,
		Relay:          "flashbots",
		BundleHash:     common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000aaaa"),
		SubmittedAt:    time.Now(),
		Outcome:        coretypes.OutcomeIncluded,
		IncludedBlock:  123,
		RealizedProfit: big.NewInt(5_000_000),
		GasUsed:        210_000,
		ElapsedMS:      42,
	}

	if err := recorder.Record(rec); err != nil {
		t.Errorf("Record failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecorder_CountRecords(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer sqlDB.Close()

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to create gorm DB: %v", err)
	}

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `execution_records`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	recorder := &Recorder{db: gormDB}
	count, err := recorder.CountRecords()
	if err != nil {
		t.Fatalf("CountRecords failed: %v", err)
	}
	if count != 3 {
		t.Errorf("CountRecords() = %d, want 3", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestBigIntToString(t *testing.T) {
	tests := []struct {
		name     string
		input    *big.Int
		expected string
	}{
		{name: "nil value", input: nil, expected: "0"},
		{name: "zero value", input: big.NewInt(0), expected: "0"},
		{name: "positive value", input: big.NewInt(123456789), expected: "123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := bigIntToString(tt.input)
			if result != tt.expected {
				t.Errorf("bigIntToString() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestExecutionRecordRow_TableName(t *testing.T) {
	row := ExecutionRecordRow{}
	if got := row.TableName(); got != "execution_records" {
		t.Errorf("TableName() = %v, want execution_records", got)
	}
}
