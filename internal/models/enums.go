package models

import "strings"

// TransactionType is the platform's transaction type code. Unknown codes are
// kept as-is.
type TransactionType int

const (
	TypeAddValue            TransactionType = 2
	TypeAdminAdjust         TransactionType = 3
	TypeCoins               TransactionType = 11
	TypeCapture             TransactionType = 20
	TypeMerge               TransactionType = 50
	TypeVend                TransactionType = 100
	TypeCashoutRequest      TransactionType = 101
	TypeDamageRefundRequest TransactionType = 201
)

func (t TransactionType) String() string {
	switch t {
	case TypeAddValue:
		return "Value Add"
	case TypeAdminAdjust:
		return "Admin Adjust"
	case TypeCoins:
		return "Coins"
	case TypeCapture:
		return "Capture"
	case TypeMerge:
		return "Merge"
	case TypeVend:
		return "Vend"
	case TypeCashoutRequest:
		return "[CASHOUT]"
	case TypeDamageRefundRequest:
		return "[DAMAGES]"
	}
	return "Unknown"
}

type TransactionSubType int

const (
	SubTypeCreditAtReader  TransactionSubType = 0
	SubTypeCreditOnWebsite TransactionSubType = 1
	SubTypeCash            TransactionSubType = 2
	SubTypeAutoReload      TransactionSubType = 3
	SubTypeFake            TransactionSubType = 500
)

// RefundChannel is how money goes back to the customer.
type RefundChannel string

const (
	ChannelPlatformAdjust RefundChannel = "platform_adjust"
	ChannelCheck          RefundChannel = "check"
	ChannelCardReversal   RefundChannel = "card_reversal"
)

func (c RefundChannel) Valid() bool {
	switch c {
	case ChannelPlatformAdjust, ChannelCheck, ChannelCardReversal:
		return true
	}
	return false
}

type RefundType string

const (
	RefundTypeTransaction RefundType = "transaction"
	RefundTypeCashout     RefundType = "cashout"
	RefundTypeDamage      RefundType = "damage"
)

// BalanceType names the loyalty balance a cashout draws from. The values are
// the platform's user account field names.
type BalanceType string

const (
	BalanceTypeBalance BalanceType = "Balance"
	BalanceTypeBonus   BalanceType = "Bonus"
)

// TenderField is a monetary column of Transaction that can contribute to the
// refundable total.
type TenderField string

const (
	TenderCreditCard TenderField = "credit_card_amount"
	TenderCash       TenderField = "cash_amount"
	TenderBalance    TenderField = "balance_amount"
	TenderBonus      TenderField = "bonus_amount"
)

func (f TenderField) Valid() bool {
	switch f {
	case TenderCreditCard, TenderCash, TenderBalance, TenderBonus:
		return true
	}
	return false
}

// JoinTenders and SplitTenders convert aggregator sets to and from their
// stored comma form.
func JoinTenders(fields []TenderField) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

func SplitTenders(s string) []TenderField {
	var out []TenderField
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, TenderField(p))
	}
	return out
}
