package refund

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"revenue-service/internal/blobstore"
	"revenue-service/internal/models"
	"revenue-service/internal/platform"
	"revenue-service/internal/processor"
)

// Platform adjustment sub types under the admin adjust transaction type.
const (
	adjustSubTypeAdmin  = 0
	adjustSubTypeRefund = 3
)

const (
	captureLeadTime  = 2 * time.Minute
	captureLagWindow = 6 * time.Hour
)

// settlement carries what a channel needs that must be read before the
// database transaction opens.
type settlement struct {
	req   *models.RefundAuthorizationRequest
	txn   *models.Transaction
	check *checkContext
}

func (e *Engine) prepare(ctx context.Context, req *models.RefundAuthorizationRequest) (*settlement, error) {
	var txn models.Transaction
	if err := e.DB.WithContext(ctx).First(&txn, req.TransactionID).Error; err != nil {
		return nil, fmt.Errorf("load transaction %d: %w", req.TransactionID, err)
	}
	s := &settlement{req: req, txn: &txn}
	if req.Channel == models.ChannelCheck {
		check, err := e.checkContextFor(ctx, req, &txn)
		if err != nil {
			return nil, err
		}
		s.check = check
	}
	return s, nil
}

func (e *Engine) settle(ctx context.Context, db *gorm.DB, s *settlement) (*Outcome, error) {
	switch s.req.Channel {
	case models.ChannelPlatformAdjust:
		return e.settlePlatformAdjust(ctx, db, s)
	case models.ChannelCheck:
		return e.settleCheck(ctx, db, s)
	case models.ChannelCardReversal:
		return e.settleCardReversal(ctx, db, s)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, s.req.Channel)
}

// guard locks the transaction row and refuses a refund that would take the
// refunded total past the refundable total for the request's tender set.
func guard(ctx context.Context, db *gorm.DB, req *models.RefundAuthorizationRequest) (*models.Transaction, decimal.Decimal, error) {
	var txn models.Transaction
	err := db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&txn, req.TransactionID).Error
	if err != nil {
		return nil, decimal.Zero, err
	}
	prior, err := refundedTotal(ctx, db, txn.ID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	available := txn.RefundableTotal(req.Aggregators())
	if prior.Add(req.Amount).GreaterThan(available) {
		return nil, prior, &TotalBalanceExceededError{Refunded: prior, Requested: req.Amount, Available: available}
	}
	return &txn, prior, nil
}

func refundedTotal(ctx context.Context, db *gorm.DB, txID uint) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := db.WithContext(ctx).Model(&models.Refund{}).
		Select("SUM(amount)").
		Where("transaction_id = ?", txID).
		Row().Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal.Round(2), nil
}

// persistRefund runs the guard and records an uncompleted Refund. The
// transaction is flagged refunded when this refund uses up its total.
func persistRefund(ctx context.Context, db *gorm.DB, req *models.RefundAuthorizationRequest) (*models.Refund, error) {
	txn, prior, err := guard(ctx, db, req)
	if err != nil {
		return nil, err
	}
	refund := &models.Refund{
		AuthorizationRequestID: req.ID,
		TransactionID:          txn.ID,
		Amount:                 req.Amount,
		Channel:                req.Channel,
	}
	if err := db.WithContext(ctx).Create(refund).Error; err != nil {
		return nil, fmt.Errorf("save refund: %w", err)
	}
	if prior.Add(req.Amount).Equal(txn.RefundableTotal(req.Aggregators())) {
		if err := db.WithContext(ctx).Model(txn).Update("is_refunded", true).Error; err != nil {
			return nil, err
		}
	}
	return refund, nil
}

func markCompleted(ctx context.Context, db *gorm.DB, refund *models.Refund) error {
	refund.Completed = true
	return db.WithContext(ctx).Model(refund).
		Select("completed", "processor_transaction_id", "document_key").
		Updates(refund).Error
}

// account is the platform user account a request pays out to.
func account(req *models.RefundAuthorizationRequest, txn *models.Transaction) (int64, error) {
	if req.ExternalUserID != nil {
		return *req.ExternalUserID, nil
	}
	if id, ok := txn.PlatformAccount(); ok {
		return id, nil
	}
	return 0, ErrNoPlatformUser
}

// fetchAccount reads the live account; the local mirror may be stale.
func (e *Engine) fetchAccount(ctx context.Context, accountID int64) (platform.Record, error) {
	rec, err := e.Platform.UserAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("fetch platform account %d: %w", accountID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("platform account %d: %w", accountID, ErrNoPlatformUser)
	}
	id, ok, err := rec.Int64("ID")
	if err != nil || !ok || id != accountID {
		return nil, fmt.Errorf("platform returned account %q for %d: %w", rec.String("ID"), accountID, ErrNoPlatformUser)
	}
	return rec, nil
}

func (e *Engine) settlePlatformAdjust(ctx context.Context, db *gorm.DB, s *settlement) (*Outcome, error) {
	req := s.req
	accountID, err := account(req, s.txn)
	if err != nil {
		return nil, err
	}
	refund, err := persistRefund(ctx, db, req)
	if err != nil {
		return nil, err
	}
	rec, err := e.fetchAccount(ctx, accountID)
	if err != nil {
		e.alert(ctx, req, alertFailedRefund, fmt.Sprintf("Error refunding refund request %d: %v", req.ID, err))
		return nil, err
	}
	bonus, err := rec.Decimal("Bonus")
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	resp, err := e.Platform.AdjustLoyalty(ctx, accountID, platform.AdjustPayload{
		Bonus:          &amount,
		TransType:      int(models.TypeAdminAdjust),
		TransSubType:   adjustSubTypeRefund,
		AdditionalInfo: req.Description,
	})
	if err != nil {
		msg := fmt.Sprintf("Error refunding refund request %d: %v", req.ID, err)
		e.alert(ctx, req, alertFailedRefund, msg)
		return nil, fmt.Errorf("adjust platform account %d: %w", accountID, err)
	}
	if resp.Confirmed() {
		if err := markCompleted(ctx, db, refund); err != nil {
			return nil, err
		}
	}
	e.Logger.Info("Platform refund issued",
		zap.Uint("request_id", req.ID),
		zap.Int64("account_id", accountID),
		zap.String("bonus_before", bonus.StringFixed(2)),
		zap.Bool("confirmed", refund.Completed),
	)
	return &Outcome{Request: req, Refund: refund}, nil
}

func (e *Engine) settleCheck(ctx context.Context, db *gorm.DB, s *settlement) (*Outcome, error) {
	req := s.req
	cashout := s.txn.TransactionType == models.TypeCashoutRequest
	if cashout {
		if _, err := e.checkBalance(ctx, req, s.txn); err != nil {
			return nil, err
		}
	}

	refund, err := persistRefund(ctx, db, req)
	if err != nil {
		return nil, err
	}

	now := e.now()
	name, doc, err := renderCheck(s.check, s.txn.TransactionType, req, refund, now)
	if err != nil {
		return nil, err
	}
	refund.DocumentKey = fmt.Sprintf("%d/%s", refund.ID, uuid.NewString())
	if err := e.Blobs.Put(blobstore.BucketChecks, refund.DocumentKey, doc); err != nil {
		return nil, fmt.Errorf("store check document: %w", err)
	}

	// The platform debit cannot be rolled back, so nothing fallible follows it
	// except the completion update inside the same transaction.
	if cashout {
		if err := e.debitCashout(ctx, req, s.txn); err != nil {
			e.alert(ctx, req, alertFailedApproval, fmt.Sprintf("Couldn't change balance on the platform: %v", err))
			return nil, err
		}
	}
	if err := markCompleted(ctx, db, refund); err != nil {
		return nil, err
	}
	archive, err := zipChecks([]checkFile{{Name: name, Content: doc}})
	if err != nil {
		return nil, err
	}
	e.Logger.Info("Check refund issued", zap.Uint("request_id", req.ID), zap.String("document_key", refund.DocumentKey))
	return &Outcome{Request: req, Refund: refund, Checks: archive}, nil
}

// checkBalance makes sure the user still holds the cashout amount.
func (e *Engine) checkBalance(ctx context.Context, req *models.RefundAuthorizationRequest, txn *models.Transaction) (decimal.Decimal, error) {
	accountID, err := account(req, txn)
	if err != nil {
		return decimal.Zero, err
	}
	rec, err := e.fetchAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	balanceType := req.CashoutType
	if balanceType == "" {
		balanceType = models.BalanceTypeBalance
	}
	current, err := rec.Decimal(string(balanceType))
	if err != nil {
		return decimal.Zero, err
	}
	if current.LessThan(req.Amount) {
		changed := &BalanceChangedError{BalanceType: balanceType, Requested: req.Amount, Current: current}
		msg := fmt.Sprintf("The user's %s changed and this request is no longer valid. Requested cash-out: %s. Current balance: %s",
			balanceType, req.Amount.StringFixed(2), current.StringFixed(2))
		e.alert(ctx, req, alertFailedApproval, msg)
		return decimal.Zero, changed
	}
	return current, nil
}

// debitCashout writes the reduced balance back to the platform.
func (e *Engine) debitCashout(ctx context.Context, req *models.RefundAuthorizationRequest, txn *models.Transaction) error {
	current, err := e.checkBalance(ctx, req, txn)
	if err != nil {
		return err
	}
	accountID, _ := account(req, txn)
	remaining := current.Sub(req.Amount)
	payload := platform.AdjustPayload{
		SetExactValue:  true,
		TransType:      int(models.TypeAdminAdjust),
		TransSubType:   adjustSubTypeAdmin,
		AdditionalInfo: req.Description,
	}
	if req.CashoutType == models.BalanceTypeBonus {
		payload.Bonus = &remaining
	} else {
		payload.Balance = &remaining
	}
	if _, err := e.Platform.AdjustLoyalty(ctx, accountID, payload); err != nil {
		return fmt.Errorf("write back balance for account %d: %w", accountID, err)
	}
	return nil
}

func (e *Engine) settleCardReversal(ctx context.Context, db *gorm.DB, s *settlement) (*Outcome, error) {
	req, txn := s.req, s.txn
	if !txn.CreditCardAmount.IsPositive() {
		return nil, ErrNothingToReverse
	}
	capture, err := findCapture(ctx, db, txn, req.Amount)
	if err != nil {
		return nil, err
	}
	if capture == nil {
		e.reportCaptureFailure(ctx, req)
		return nil, fmt.Errorf("request %d: %w", req.ID, ErrCaptureNotFound)
	}

	refund, err := persistRefund(ctx, db, req)
	if err != nil {
		return nil, err
	}

	e.Logger.Info("Reversing card payment", zap.String("last_four", txn.LastFour), zap.Uint("request_id", req.ID))
	resp, err := e.Processor.CreateReversal(ctx, processor.ReversalRequest{
		RefID:            txn.ExternalID,
		RefTransactionID: capture.ProcessorReference(),
		LastFour:         txn.LastFour,
		Amount:           req.Amount,
	})
	if err != nil {
		e.alert(ctx, req, alertFailedRefund, fmt.Sprintf("Failed refund. Refund request %d: %v", req.ID, err))
		return nil, fmt.Errorf("reverse request %d: %w", req.ID, err)
	}
	if !resp.OK() {
		detail := resp.Describe()
		e.alert(ctx, req, alertFailedRefund, fmt.Sprintf("Failed refund. Refund request %d: %s", req.ID, detail))
		return nil, fmt.Errorf("%w: request %d: %s", ErrReversalDeclined, req.ID, detail)
	}

	refund.ProcessorTransactionID = resp.TransactionID
	if err := markCompleted(ctx, db, refund); err != nil {
		return nil, err
	}
	e.Logger.Info("Card reversal completed", zap.Uint("request_id", req.ID), zap.String("processor_transaction_id", resp.TransactionID))
	return &Outcome{Request: req, Refund: refund}, nil
}

// findCapture looks for the card capture behind txn: same last four digits,
// enough captured to cover amount, from shortly before the sale to six hours
// after it. A capture can be logged a little before the sale it pays for.
func findCapture(ctx context.Context, db *gorm.DB, txn *models.Transaction, amount decimal.Decimal) (*models.Transaction, error) {
	local := txn.LocalTime
	if local == nil {
		local = txn.AssignedLocalTime
	}
	if txn.LastFour == "" || local == nil {
		return nil, nil
	}
	var captures []models.Transaction
	err := db.WithContext(ctx).
		Where("last_four = ? AND transaction_type = ?", txn.LastFour, int(models.TypeCapture)).
		Where("local_time >= ? AND local_time <= ?", local.Add(-captureLeadTime), local.Add(captureLagWindow)).
		Where("credit_card_amount >= ?", amount).
		Order("local_time").
		Order("id").
		Limit(1).
		Find(&captures).Error
	if err != nil || len(captures) == 0 {
		return nil, err
	}
	return &captures[0], nil
}

// afterSettlement runs the optional bonus side effects. The refund has
// already been committed, so failures are reported rather than returned.
func (e *Engine) afterSettlement(ctx context.Context, s *settlement) {
	req := s.req
	if req.WipeBonus {
		if err := e.wipeBonus(ctx, req, s.txn); err != nil {
			e.Logger.Error("Failed wiping bonus", zap.Uint("request_id", req.ID), zap.Error(err))
			e.alert(ctx, req, alertSideEffect, fmt.Sprintf("Failed wiping bonus for refund request %d: %v", req.ID, err))
		}
	}
	if req.AdditionalBonus.IsPositive() {
		if err := e.addBonus(ctx, req, s.txn); err != nil {
			e.Logger.Error("Failed adding additional bonus", zap.Uint("request_id", req.ID), zap.Error(err))
			e.alert(ctx, req, alertSideEffect, fmt.Sprintf("Failed adding additional bonus for refund request %d: %v", req.ID, err))
		}
	}
}

// wipeBonus removes the bonus the transaction paid with from the account.
func (e *Engine) wipeBonus(ctx context.Context, req *models.RefundAuthorizationRequest, txn *models.Transaction) error {
	if !txn.BonusAmount.IsPositive() {
		return nil
	}
	accountID, err := account(req, txn)
	if err != nil {
		return err
	}
	rec, err := e.fetchAccount(ctx, accountID)
	if err != nil {
		return err
	}
	current, err := rec.Decimal(string(models.BalanceTypeBonus))
	if err != nil {
		return err
	}
	bonus := current.Sub(txn.BonusAmount)
	_, err = e.Platform.AdjustLoyalty(ctx, accountID, platform.AdjustPayload{
		Bonus:         &bonus,
		SetExactValue: true,
		TransType:     int(models.TypeAdminAdjust),
		TransSubType:  adjustSubTypeAdmin,
	})
	return err
}

// addBonus tops the account up after a pause that lets the settlement call
// land on the platform first.
func (e *Engine) addBonus(ctx context.Context, req *models.RefundAuthorizationRequest, txn *models.Transaction) error {
	amount := req.AdditionalBonus
	if amount.IsNegative() || amount.GreaterThan(maxAdditionalBonus) {
		return ErrInvalidAdditionalBonus
	}
	accountID, err := account(req, txn)
	if err != nil {
		return err
	}
	if err := e.sleep(ctx, e.Settings.AdditionalBonusPause); err != nil {
		return err
	}
	_, err = e.Platform.AdjustLoyalty(ctx, accountID, platform.AdjustPayload{
		Bonus:        &amount,
		TransType:    int(models.TypeAdminAdjust),
		TransSubType: adjustSubTypeRefund,
	})
	return err
}
