package refund

import (
	"context"
	"time"

	"go.uber.org/zap"

	"revenue-service/internal/models"
)

type SweepResult struct {
	Completed int
	Failed    int
}

// SettlementSweep completes card reversals that waited for the day's
// settlement, plus approved card reversals whose queued settlement never
// produced a refund. Reversals already reported as missing a capture are
// left alone. It runs shortly before local midnight and, when close enough,
// waits for the day to roll over first.
func (e *Engine) SettlementSweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if err := e.waitForMidnight(ctx); err != nil {
		return res, err
	}

	var ids []uint
	err := e.DB.WithContext(ctx).Model(&models.RefundAuthorizationRequest{}).
		Where("approved = ? AND rejected = ?", true, false).
		Where("channel = ? AND capture_missing = ?", models.ChannelCardReversal, false).
		Where("wait_for_settlement = ? OR id NOT IN (?)", true, e.DB.Model(&models.Refund{}).Select("authorization_request_id")).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return res, err
	}

	for _, id := range ids {
		if _, err := e.Complete(ctx, id); err != nil {
			e.Logger.Error("Failed refunding refund request", zap.Uint("request_id", id), zap.Error(err))
			res.Failed++
			continue
		}
		e.Logger.Info("Processed refund request from settlement sweep", zap.Uint("request_id", id))
		res.Completed++
	}
	return res, nil
}

func (e *Engine) waitForMidnight(ctx context.Context) error {
	now := e.now().In(e.Settings.SettlementZone)
	if now.Hour() != 23 {
		return nil
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	delta := midnight.Sub(now)
	if delta >= e.Settings.MidnightWindow {
		return nil
	}
	e.Logger.Info("Waiting for midnight before settlement sweep", zap.Duration("wait", delta))
	return e.sleep(ctx, delta)
}
