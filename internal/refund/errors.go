package refund

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"revenue-service/internal/models"
)

var (
	ErrCaptureNotFound        = errors.New("refund: no settled capture transaction to reverse against")
	ErrReversalDeclined       = errors.New("refund: card reversal declined")
	ErrNothingToReverse       = errors.New("refund: transaction has no credit card amount")
	ErrAlreadyDecided         = errors.New("refund: request was already approved or rejected")
	ErrApproveAndReject       = models.ErrApproveAndReject
	ErrChannelLocked          = errors.New("refund: channel cannot change once the request is approved")
	ErrInvalidAdditionalBonus = errors.New("refund: additional bonus must be between 0 and 100")
	ErrInvalidChannel         = errors.New("refund: unknown refund channel")
	ErrInvalidAmount          = errors.New("refund: amount must be positive")
	ErrInvalidAggregator      = errors.New("refund: unknown tender field in aggregator set")
	ErrNotApproved            = errors.New("refund: request is not approved")
	ErrNoPlatformUser         = errors.New("refund: no platform user account to adjust")
)

// TotalBalanceExceededError is returned when a refund would push the refunded
// total of a transaction past what it can give back.
type TotalBalanceExceededError struct {
	Refunded  decimal.Decimal
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *TotalBalanceExceededError) Error() string {
	return fmt.Sprintf("refund: total balance exceeded: already refunded %s, requested %s, refundable %s",
		e.Refunded.StringFixed(2), e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

// BalanceChangedError means the user's platform balance dropped below a
// requested cashout after the request was made.
type BalanceChangedError struct {
	BalanceType models.BalanceType
	Requested   decimal.Decimal
	Current     decimal.Decimal
}

func (e *BalanceChangedError) Error() string {
	return fmt.Sprintf("refund: user's %s changed: requested cash-out %s, current %s",
		e.BalanceType, e.Requested.StringFixed(2), e.Current.StringFixed(2))
}
