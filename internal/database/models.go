package database

import (
	"time"
)

// RunRecord is one pipeline invocation
type RunRecord struct {
	ID        string    `gorm:"primaryKey;column:id"`
	Kind      string    `gorm:"column:kind;not null"`
	Dataset   string    `gorm:"column:dataset;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName specifies the table name for RunRecord
func (RunRecord) TableName() string {
	return "atmcorr_runs"
}

// DecisionRecord holds one model decision as a MessagePack payload
type DecisionRecord struct {
	RunID     string `gorm:"primaryKey;column:run_id"`
	Seq       int    `gorm:"primaryKey;autoIncrement:false;column:seq"`
	Field     int    `gorm:"column:field;not null"`
	FitStatus string `gorm:"column:fit_status;not null"`
	Payload   []byte `gorm:"column:payload;not null"`
}

// TableName specifies the table name for DecisionRecord
func (DecisionRecord) TableName() string {
	return "atmcorr_decisions"
}

// ReportRecord holds one contamination report as a MessagePack payload
type ReportRecord struct {
	RunID   string `gorm:"primaryKey;column:run_id"`
	Seq     int    `gorm:"primaryKey;autoIncrement:false;column:seq"`
	SPW     int    `gorm:"column:spw;not null"`
	Field   int    `gorm:"column:field;not null"`
	Payload []byte `gorm:"column:payload;not null"`
}

// TableName specifies the table name for ReportRecord
func (ReportRecord) TableName() string {
	return "tsys_contamination_reports"
}
