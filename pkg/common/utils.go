package common

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateFakeID returns the external id used for synthetic transactions:
// an md5 hex digest of the synthetic type code and the creation time, salted
// with a random uuid so two requests in the same instant never collide.
func GenerateFakeID(code int, now time.Time) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d%d%s", code, now.Unix(), uuid.NewString())))
	return hex.EncodeToString(sum[:])
}

// NaiveSecond drops the location and sub-second part of t, keeping its wall
// clock reading. The result is expressed in UTC so it round-trips through
// DATETIME columns unchanged.
func NaiveSecond(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// StartOfDay returns midnight of the wall-clock day of t in UTC.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
