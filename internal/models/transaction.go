package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one platform ledger event, or a synthetic one carrying a
// cashout or damage refund request when Fake is set.
//
// All times are naive wall-clock values stored as UTC.
type Transaction struct {
	ID                    uint               `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID            string             `gorm:"column:external_id;size:100;not null;uniqueIndex" json:"external_id"`
	PlatformRecordID      string             `gorm:"column:platform_record_id;size:50;index" json:"platform_record_id"`
	SystemConfigID        string             `gorm:"column:system_config_id;size:50" json:"system_config_id"`
	LaundryGroupID        uint               `gorm:"column:laundry_group_id;index" json:"laundry_group_id"`
	TransactionType       TransactionType    `gorm:"column:transaction_type;not null;index" json:"transaction_type"`
	SubType               TransactionSubType `gorm:"column:sub_type;not null;default:0" json:"sub_type"`
	LocationCode          string             `gorm:"column:location_code;size:50" json:"location_code"`
	MachineLabel          string             `gorm:"column:machine_label;size:100" json:"machine_label"`
	LaundryRoomID         *uint              `gorm:"column:laundry_room_id;index" json:"laundry_room_id"`
	SlotID                *uint              `gorm:"column:slot_id" json:"slot_id"`
	MachineID             *uint              `gorm:"column:machine_id" json:"machine_id"`
	ExternalUserID        *int64             `gorm:"column:external_user_id;index" json:"external_user_id"`
	PlatformUserID        *uint              `gorm:"column:platform_user_id;index" json:"platform_user_id"`
	EmployeeUserID        *int64             `gorm:"column:employee_user_id" json:"employee_user_id"`
	CardNumber            string             `gorm:"column:card_number;size:30" json:"card_number"`
	LastFour              string             `gorm:"column:last_four;size:4;index" json:"last_four"`
	CardHolderName        string             `gorm:"column:card_holder_name;size:255" json:"card_holder_name"`
	LoyaltyCardNumber     string             `gorm:"column:loyalty_card_number;size:50" json:"loyalty_card_number"`
	CreditCardAmount      decimal.Decimal    `gorm:"column:credit_card_amount;type:decimal(10,2);not null;default:0" json:"credit_card_amount"`
	CashAmount            decimal.Decimal    `gorm:"column:cash_amount;type:decimal(10,2);not null;default:0" json:"cash_amount"`
	BalanceAmount         decimal.Decimal    `gorm:"column:balance_amount;type:decimal(10,2);not null;default:0" json:"balance_amount"`
	BonusAmount           decimal.Decimal    `gorm:"column:bonus_amount;type:decimal(10,2);not null;default:0" json:"bonus_amount"`
	NewBalance            decimal.Decimal    `gorm:"column:new_balance;type:decimal(10,2);not null;default:0" json:"new_balance"`
	NewBonus              decimal.Decimal    `gorm:"column:new_bonus;type:decimal(10,2);not null;default:0" json:"new_bonus"`
	UnfundedAmount        decimal.Decimal    `gorm:"column:unfunded_amount;type:decimal(10,2);not null;default:0" json:"unfunded_amount"`
	LoyaltyPoints         int                `gorm:"column:loyalty_points;default:0" json:"loyalty_points"`
	NewLoyaltyPoints      int                `gorm:"column:new_loyalty_points;default:0" json:"new_loyalty_points"`
	FreeStarts            int                `gorm:"column:free_starts;default:0" json:"free_starts"`
	NewFreeStarts         int                `gorm:"column:new_free_starts;default:0" json:"new_free_starts"`
	AdditionalInfo        string             `gorm:"column:additional_info;type:text" json:"additional_info"`
	RootTransactionID     string             `gorm:"column:root_transaction_id;size:50" json:"root_transaction_id"`
	UTCTime               *time.Time         `gorm:"column:utc_time;index" json:"utc_time"`
	LocalTime             *time.Time         `gorm:"column:local_time;index" json:"local_time"`
	AssignedLaundryRoomID *uint              `gorm:"column:assigned_laundry_room_id;index" json:"assigned_laundry_room_id"`
	AssignedUTCTime       *time.Time         `gorm:"column:assigned_utc_time" json:"assigned_utc_time"`
	AssignedLocalTime     *time.Time         `gorm:"column:assigned_local_time" json:"assigned_local_time"`
	IsRefunded            bool               `gorm:"column:is_refunded;not null;default:false" json:"is_refunded"`
	Fake                  bool               `gorm:"column:fake;not null;default:false;index" json:"fake"`
	CreatedAt             time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "laundry_transactions"
}

// IsWebValueAdd reports a value add made on the platform website. Its reported
// location is the customer's browser, not a room.
func (t *Transaction) IsWebValueAdd() bool {
	return t.TransactionType == TypeAddValue && t.SubType == SubTypeCreditOnWebsite
}

func (t *Transaction) IsCashValueAdd() bool {
	return t.TransactionType == TypeAddValue && t.SubType == SubTypeCash
}

// DirectlyAssignable reports whether the reported room and times can be
// trusted as the assigned ones.
func (t *Transaction) DirectlyAssignable() bool {
	return !t.IsWebValueAdd() && t.LaundryRoomID != nil
}

func (t *Transaction) IsAssigned() bool {
	return t.AssignedLaundryRoomID != nil
}

// AssignReported copies the reported room and times into the assigned fields.
func (t *Transaction) AssignReported() {
	room := *t.LaundryRoomID
	t.AssignedLaundryRoomID = &room
	t.AssignedUTCTime = t.UTCTime
	t.AssignedLocalTime = t.LocalTime
}

// Tender returns the amount recorded for one tender column.
func (t *Transaction) Tender(field TenderField) decimal.Decimal {
	switch field {
	case TenderCreditCard:
		return t.CreditCardAmount
	case TenderCash:
		return t.CashAmount
	case TenderBalance:
		return t.BalanceAmount
	case TenderBonus:
		return t.BonusAmount
	}
	return decimal.Zero
}

// RefundableTotal sums the given tender columns.
func (t *Transaction) RefundableTotal(fields []TenderField) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fields {
		total = total.Add(t.Tender(f))
	}
	return total
}

// ProcessorReference is the card processor's id for a capture. The platform
// stores it as the first "/"-separated part of AdditionalInfo.
func (t *Transaction) ProcessorReference() string {
	ref, _, _ := strings.Cut(t.AdditionalInfo, "/")
	return strings.TrimSpace(ref)
}

// EffectiveLocalTime prefers the assigned local time over the reported one.
func (t *Transaction) EffectiveLocalTime() *time.Time {
	if t.AssignedLocalTime != nil {
		return t.AssignedLocalTime
	}
	return t.LocalTime
}

// PlatformAccount returns the platform user account id, if the record has one.
func (t *Transaction) PlatformAccount() (int64, bool) {
	if t.ExternalUserID == nil {
		return 0, false
	}
	return *t.ExternalUserID, true
}
