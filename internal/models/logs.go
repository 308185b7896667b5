package models

import "time"

// FailedTransactionIngest keeps a raw platform record that could not be
// cleaned or saved.
type FailedTransactionIngest struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID     string    `gorm:"column:external_id;size:100;index" json:"external_id"`
	LaundryGroupID uint      `gorm:"column:laundry_group_id" json:"laundry_group_id"`
	RawRecord      string    `gorm:"column:raw_record;type:text" json:"raw_record"`
	ErrorMessage   string    `gorm:"column:error_message;type:text" json:"error_message"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (FailedTransactionIngest) TableName() string {
	return "failed_transaction_ingests"
}

type FailedTransactionMatch struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID uint       `gorm:"column:transaction_id;not null;index" json:"transaction_id"`
	Solved        bool       `gorm:"column:solved;not null;default:false;index" json:"solved"`
	SolvedAt      *time.Time `gorm:"column:solved_at" json:"solved_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (FailedTransactionMatch) TableName() string {
	return "failed_transaction_matches"
}

// CheckAttributionMatch marks a cash value add as attributed to an employee.
type CheckAttributionMatch struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID  uint      `gorm:"column:transaction_id;not null;uniqueIndex" json:"transaction_id"`
	EmployeeUserID *int64    `gorm:"column:employee_user_id" json:"employee_user_id"`
	EmployeeID     *uint     `gorm:"column:employee_id" json:"employee_id"`
	Comment        string    `gorm:"column:comment;size:255" json:"comment"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (CheckAttributionMatch) TableName() string {
	return "check_attribution_matches"
}

// TransactionGap lists external ids whose surrounding metrics need recomputing.
type TransactionGap struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalIDs    string    `gorm:"column:external_ids;type:text" json:"external_ids"`
	FullyProcessed bool      `gorm:"column:fully_processed;not null;default:false;index" json:"fully_processed"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (TransactionGap) TableName() string {
	return "transaction_gaps"
}

// TransactionPool points at a blob holding the comma-joined external ids of
// one ingestion run.
type TransactionPool struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	BlobKey         string    `gorm:"column:blob_key;size:255;not null" json:"blob_key"`
	NumberOfRecords int       `gorm:"column:number_of_records;not null;default:0" json:"number_of_records"`
	ProcessedCount  int       `gorm:"column:processed_count;not null;default:0" json:"processed_count"`
	FullyProcessed  bool      `gorm:"column:fully_processed;not null;default:false;index" json:"fully_processed"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (TransactionPool) TableName() string {
	return "transaction_pools"
}

// LastIDLog is one observed ingestion watermark.
type LastIDLog struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	LaundryGroupID uint      `gorm:"column:laundry_group_id;index" json:"laundry_group_id"`
	LastID         string    `gorm:"column:last_id;size:50;not null" json:"last_id"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (LastIDLog) TableName() string {
	return "last_id_logs"
}
