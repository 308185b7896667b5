package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrApproveAndReject = errors.New("refund request cannot be both approved and rejected")

type RefundAuthorizationRequest struct {
	ID                     uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID          uint            `gorm:"column:transaction_id;not null;index" json:"transaction_id"`
	Channel                RefundChannel   `gorm:"column:channel;size:30;not null" json:"channel"`
	RefundType             RefundType      `gorm:"column:refund_type;size:20;not null" json:"refund_type"`
	Amount                 decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null" json:"amount"`
	Approved               bool            `gorm:"column:approved;not null;default:false;index" json:"approved"`
	Rejected               bool            `gorm:"column:rejected;not null;default:false" json:"rejected"`
	ApprovalTime           *time.Time      `gorm:"column:approval_time" json:"approval_time"`
	CreatedBy              string          `gorm:"column:created_by;size:255" json:"created_by"`
	ApprovedBy             string          `gorm:"column:approved_by;size:255" json:"approved_by"`
	Description            string          `gorm:"column:description;type:text" json:"description"`
	ExternalUserID         *int64          `gorm:"column:external_user_id" json:"external_user_id"`
	PlatformUserID         *uint           `gorm:"column:platform_user_id" json:"platform_user_id"`
	WipeBonus              bool            `gorm:"column:wipe_bonus;not null;default:false" json:"wipe_bonus"`
	AdditionalBonus        decimal.Decimal `gorm:"column:additional_bonus;type:decimal(10,2);not null;default:0" json:"additional_bonus"`
	WaitForSettlement      bool            `gorm:"column:wait_for_settlement;not null;default:false;index" json:"wait_for_settlement"`
	CaptureMissing         bool            `gorm:"column:capture_missing;not null;default:false" json:"capture_missing"`
	WorkOrderStatus        string          `gorm:"column:work_order_status;size:50" json:"work_order_status"`
	CheckRecipient         string          `gorm:"column:check_recipient;size:255" json:"check_recipient"`
	CheckRecipientAddress  string          `gorm:"column:check_recipient_address;size:500" json:"check_recipient_address"`
	CashoutType            BalanceType     `gorm:"column:cashout_type;size:20" json:"cashout_type"`
	ChargeDamageToLandlord bool            `gorm:"column:charge_damage_to_landlord;not null;default:false" json:"charge_damage_to_landlord"`
	Force                  bool            `gorm:"column:force_refund;not null;default:false" json:"force"`
	AggregatorParam        string          `gorm:"column:aggregator_param;size:200" json:"aggregator_param"`
	Refund                 *Refund         `gorm:"foreignKey:AuthorizationRequestID" json:"refund,omitempty"`
	CreatedAt              time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (RefundAuthorizationRequest) TableName() string {
	return "refund_authorization_requests"
}

func (r *RefundAuthorizationRequest) BeforeSave(tx *gorm.DB) error {
	if r.Approved && r.Rejected {
		return ErrApproveAndReject
	}
	return nil
}

func (r *RefundAuthorizationRequest) Aggregators() []TenderField {
	return SplitTenders(r.AggregatorParam)
}

func (r *RefundAuthorizationRequest) Pending() bool {
	return !r.Approved && !r.Rejected
}

// Refund records money that actually moved back to a customer.
type Refund struct {
	ID                     uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	AuthorizationRequestID uint            `gorm:"column:authorization_request_id;not null;uniqueIndex" json:"authorization_request_id"`
	TransactionID          uint            `gorm:"column:transaction_id;not null;index" json:"transaction_id"`
	Amount                 decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null" json:"amount"`
	Channel                RefundChannel   `gorm:"column:channel;size:30;not null" json:"channel"`
	Completed              bool            `gorm:"column:completed;not null;default:false" json:"completed"`
	ProcessorTransactionID string          `gorm:"column:processor_transaction_id;size:50" json:"processor_transaction_id"`
	DocumentKey            string          `gorm:"column:document_key;size:255" json:"document_key"`
	CreatedAt              time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Refund) TableName() string {
	return "refunds"
}
