package refund

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"revenue-service/internal/models"
	"revenue-service/pkg/common"
)

// CashoutInput asks to pay a user's loyalty balance out by check.
type CashoutInput struct {
	ExternalUserID        int64
	Amount                decimal.Decimal
	BalanceType           models.BalanceType
	CheckRecipient        string
	CheckRecipientAddress string
	Description           string
	CreatedBy             string
}

// DamageInput asks to compensate a user for a machine fault in a known room.
type DamageInput struct {
	ExternalUserID         *int64
	Amount                 decimal.Decimal
	Channel                models.RefundChannel
	LaundryRoomID          *uint
	SlotID                 *uint
	BalanceType            models.BalanceType
	CheckRecipient         string
	CheckRecipientAddress  string
	Description            string
	CreatedBy              string
	ChargeDamageToLandlord bool
	Force                  bool
}

// fakeTransaction builds the synthetic transaction a cashout or damage
// request is carried by. Only the balance tender holds the amount.
func (e *Engine) fakeTransaction(ctx context.Context, db *gorm.DB, txType models.TransactionType, amount decimal.Decimal, externalUserID *int64) (*models.Transaction, error) {
	now := e.now()
	local := common.NaiveSecond(now.In(e.Settings.LocalZone))
	utc := common.NaiveSecond(now.UTC())
	txn := &models.Transaction{
		ExternalID:       common.GenerateFakeID(int(txType), now),
		LaundryGroupID:   e.Settings.LaundryGroupID,
		TransactionType:  txType,
		SubType:          models.SubTypeFake,
		BalanceAmount:    amount,
		CreditCardAmount: decimal.Zero,
		CashAmount:       decimal.Zero,
		ExternalUserID:   externalUserID,
		UTCTime:          &utc,
		LocalTime:        &local,
		Fake:             true,
	}
	if externalUserID != nil {
		id, err := platformUser(ctx, db, e.Settings.LaundryGroupID, *externalUserID)
		if err != nil {
			return nil, err
		}
		txn.PlatformUserID = id
	}
	return txn, nil
}

// RequestCashout creates a synthetic cashout transaction, matches it to the
// user's nearest room and files a check request against it.
func (e *Engine) RequestCashout(ctx context.Context, in CashoutInput) (*models.RefundAuthorizationRequest, error) {
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	balanceType := in.BalanceType
	if balanceType == "" {
		balanceType = models.BalanceTypeBalance
	}
	userID := in.ExternalUserID

	var req *models.RefundAuthorizationRequest
	err := e.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		txn, err := e.fakeTransaction(ctx, db, models.TypeCashoutRequest, in.Amount, &userID)
		if err != nil {
			return err
		}
		if err := db.WithContext(ctx).Create(txn).Error; err != nil {
			return fmt.Errorf("save cashout transaction: %w", err)
		}
		if _, err := e.Matcher.WithDB(db).MatchTransaction(ctx, txn); err != nil {
			e.Logger.Error("Failed matching cashout transaction", zap.Uint("transaction_id", txn.ID), zap.Error(err))
		}

		req = &models.RefundAuthorizationRequest{
			TransactionID:         txn.ID,
			Channel:               models.ChannelCheck,
			RefundType:            models.RefundTypeCashout,
			Amount:                in.Amount,
			AggregatorParam:       string(models.TenderBalance),
			ExternalUserID:        &userID,
			PlatformUserID:        txn.PlatformUserID,
			CheckRecipient:        in.CheckRecipient,
			CheckRecipientAddress: in.CheckRecipientAddress,
			Description:           in.Description,
			CreatedBy:             in.CreatedBy,
			CashoutType:           balanceType,
		}
		return e.insertRequest(ctx, db, req)
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, req, nil, kindNew)
	return req, nil
}

// RequestDamageRefund creates a synthetic damage transaction in the given
// room, assigns it directly and files a request against it.
func (e *Engine) RequestDamageRefund(ctx context.Context, in DamageInput) (*models.RefundAuthorizationRequest, error) {
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	channel := in.Channel
	if channel == "" {
		channel = models.ChannelCheck
	}
	if !channel.Valid() || channel == models.ChannelCardReversal {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}

	var machineID *uint
	if in.SlotID != nil {
		machine, err := e.Directory.CurrentMachine(ctx, *in.SlotID)
		if err != nil {
			return nil, fmt.Errorf("current machine of slot %d: %w", *in.SlotID, err)
		}
		if machine != nil {
			machineID = &machine.ID
		}
	}

	var req *models.RefundAuthorizationRequest
	err := e.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		txn, err := e.fakeTransaction(ctx, db, models.TypeDamageRefundRequest, in.Amount, in.ExternalUserID)
		if err != nil {
			return err
		}
		txn.LaundryRoomID = in.LaundryRoomID
		txn.SlotID = in.SlotID
		txn.MachineID = machineID
		if err := db.WithContext(ctx).Create(txn).Error; err != nil {
			return fmt.Errorf("save damage transaction: %w", err)
		}
		if err := e.Matcher.WithDB(db).AssignDirect(ctx, txn.ID); err != nil {
			return err
		}

		req = &models.RefundAuthorizationRequest{
			TransactionID:          txn.ID,
			Channel:                channel,
			RefundType:             models.RefundTypeDamage,
			Amount:                 in.Amount,
			AggregatorParam:        string(models.TenderBalance),
			ExternalUserID:         in.ExternalUserID,
			PlatformUserID:         txn.PlatformUserID,
			CheckRecipient:         in.CheckRecipient,
			CheckRecipientAddress:  in.CheckRecipientAddress,
			Description:            in.Description,
			CreatedBy:              in.CreatedBy,
			CashoutType:            in.BalanceType,
			ChargeDamageToLandlord: in.ChargeDamageToLandlord,
			Force:                  in.Force,
		}
		return e.insertRequest(ctx, db, req)
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, req, nil, kindNew)
	return req, nil
}
