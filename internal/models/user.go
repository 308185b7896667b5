package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformUser mirrors a platform user account. Balance and bonus are only as
// fresh as the last sync and must not gate money movement.
type PlatformUser struct {
	ID                uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	LaundryGroupID    uint            `gorm:"column:laundry_group_id;not null;uniqueIndex:idx_platform_user_account" json:"laundry_group_id"`
	ExternalAccountID int64           `gorm:"column:external_account_id;not null;uniqueIndex:idx_platform_user_account" json:"external_account_id"`
	ExternalUserID    *int64          `gorm:"column:external_user_id;index" json:"external_user_id"`
	Email             string          `gorm:"column:email;size:255" json:"email"`
	Name              string          `gorm:"column:name;size:255" json:"name"`
	Addr1             string          `gorm:"column:addr1;size:255" json:"addr1"`
	Addr2             string          `gorm:"column:addr2;size:255" json:"addr2"`
	City              string          `gorm:"column:city;size:100" json:"city"`
	State             string          `gorm:"column:state;size:50" json:"state"`
	ZipCode           string          `gorm:"column:zip_code;size:20" json:"zip_code"`
	MobilePhone       string          `gorm:"column:mobile_phone;size:30" json:"mobile_phone"`
	Language          string          `gorm:"column:language;size:20" json:"language"`
	IsEmployee        bool            `gorm:"column:is_employee;not null;default:false;index" json:"is_employee"`
	Balance           decimal.Decimal `gorm:"column:balance;type:decimal(10,2);not null;default:0" json:"balance"`
	Bonus             decimal.Decimal `gorm:"column:bonus;type:decimal(10,2);not null;default:0" json:"bonus"`
	Discount          decimal.Decimal `gorm:"column:discount;type:decimal(10,2);not null;default:0" json:"discount"`
	LoyaltyPoints     int             `gorm:"column:loyalty_points;default:0" json:"loyalty_points"`
	FreeStarts        int             `gorm:"column:free_starts;default:0" json:"free_starts"`
	LastActivityDate  *time.Time      `gorm:"column:last_activity_date" json:"last_activity_date"`
	LastLocationID    *int64          `gorm:"column:last_location_id" json:"last_location_id"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PlatformUser) TableName() string {
	return "platform_users"
}

// MailingAddress joins the non-empty address lines.
func (u *PlatformUser) MailingAddress() string {
	out := ""
	for _, part := range []string{u.Addr1, u.Addr2, u.City, u.State, u.ZipCode} {
		if part == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += part
	}
	return out
}
