package ingest

import (
	"fmt"
	"time"

	"revenue-service/internal/models"
	"revenue-service/internal/platform"
	"revenue-service/pkg/common"
)

// txField is a Transaction column that a platform field can populate.
type txField int

const (
	txRecordID txField = iota + 1
	txSystemConfigID
	txReportedTime
	txType
	txSubType
	txLocationCode
	txMachineLabel
	txCashAmount
	txCardNumber
	txCreditCardAmount
	txLoyaltyCardNumber
	txBalanceAmount
	txBonusAmount
	txLoyaltyPoints
	txFreeStarts
	txNewBalance
	txNewBonus
	txAdditionalInfo
	txExternalUserID
	txCardHolderName
	txEmployeeUserID
	txNewFreeStarts
	txNewLoyaltyPoints
	txRootTransactionID
	txUnfundedAmount
	txFieldEnd
)

type userField int

const (
	userAccountID userField = iota + 1
	userExternalUserID
	userEmail
	userName
	userAddr1
	userAddr2
	userCity
	userState
	userZipCode
	userMobilePhone
	userLanguage
	userIsEmployee
	userBalance
	userBonus
	userLoyaltyPoints
	userFreeStarts
	userDiscount
	userLastActivityDate
	userLastLocationID
	userFieldEnd
)

type transactionBinding struct {
	Source string
	Target txField
}

type userBinding struct {
	Source string
	Target userField
}

// TransactionFieldMap maps platform transaction fields to local columns.
var TransactionFieldMap = []transactionBinding{
	{"ID", txRecordID},
	{"AccountID", txSystemConfigID},
	{"DateTime", txReportedTime},
	{"TransType", txType},
	{"TransSubType", txSubType},
	{"LocationID", txLocationCode},
	{"MachNo", txMachineLabel},
	{"CashAmount", txCashAmount},
	{"CreditCardNumber", txCardNumber},
	{"CreditCardAmount", txCreditCardAmount},
	{"LoyaltyCardNumber", txLoyaltyCardNumber},
	{"BalanceAmount", txBalanceAmount},
	{"BonusAmount", txBonusAmount},
	{"LoyaltyPoints", txLoyaltyPoints},
	{"FreeStarts", txFreeStarts},
	{"NewBalance", txNewBalance},
	{"NewBonus", txNewBonus},
	{"AdditionalInfo", txAdditionalInfo},
	{"UserAccountID", txExternalUserID},
	{"CreditCardName", txCardHolderName},
	{"EmployeeUserID", txEmployeeUserID},
	{"NewFreeStarts", txNewFreeStarts},
	{"NewLoyaltyPoints", txNewLoyaltyPoints},
	{"RootTransactID", txRootTransactionID},
	{"UnfundedAmount", txUnfundedAmount},
}

// UserFieldMap maps platform user account fields to local columns.
var UserFieldMap = []userBinding{
	{"ID", userAccountID},
	{"UserID", userExternalUserID},
	{"EmailAddress", userEmail},
	{"Name", userName},
	{"Addr1", userAddr1},
	{"Addr2", userAddr2},
	{"City", userCity},
	{"State", userState},
	{"ZipCode", userZipCode},
	{"MobilePhone", userMobilePhone},
	{"Language", userLanguage},
	{"Employee", userIsEmployee},
	{"Balance", userBalance},
	{"Bonus", userBonus},
	{"LoyaltyPoints", userLoyaltyPoints},
	{"FreeStarts", userFreeStarts},
	{"Discount", userDiscount},
	{"LastActivityDate", userLastActivityDate},
	{"LastLocationID", userLastLocationID},
}

// ValidateFieldMaps checks that every binding targets a known column, that no
// source or target appears twice and that identity fields are mapped.
func ValidateFieldMaps() error {
	if err := validateBindings("transaction", len(TransactionFieldMap), func(i int) (string, int) {
		return TransactionFieldMap[i].Source, int(TransactionFieldMap[i].Target)
	}, int(txFieldEnd), []int{int(txRecordID), int(txSystemConfigID), int(txReportedTime), int(txType)}); err != nil {
		return err
	}
	return validateBindings("user", len(UserFieldMap), func(i int) (string, int) {
		return UserFieldMap[i].Source, int(UserFieldMap[i].Target)
	}, int(userFieldEnd), []int{int(userAccountID)})
}

func validateBindings(name string, n int, at func(int) (string, int), end int, required []int) error {
	sources := make(map[string]bool, n)
	targets := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		src, target := at(i)
		if src == "" {
			return fmt.Errorf("%s field map: empty source at position %d", name, i)
		}
		if target <= 0 || target >= end {
			return fmt.Errorf("%s field map: %s targets unknown column %d", name, src, target)
		}
		if sources[src] {
			return fmt.Errorf("%s field map: duplicate source %s", name, src)
		}
		if targets[target] {
			return fmt.Errorf("%s field map: column %d mapped twice", name, target)
		}
		sources[src] = true
		targets[target] = true
	}
	for _, r := range required {
		if !targets[r] {
			return fmt.Errorf("%s field map: required column %d is not mapped", name, r)
		}
	}
	return nil
}

// mappedTransaction is a platform record copied onto a Transaction, before
// any lookups. reportedAt is in the platform report zone.
type mappedTransaction struct {
	tx         models.Transaction
	reportedAt *time.Time
}

func mapTransaction(rec platform.Record, reportLoc *time.Location) (*mappedTransaction, error) {
	m := &mappedTransaction{}
	for _, b := range TransactionFieldMap {
		if _, present := rec[b.Source]; !present {
			continue
		}
		if err := m.set(b.Target, rec, b.Source, reportLoc); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *mappedTransaction) set(f txField, rec platform.Record, key string, reportLoc *time.Location) error {
	tx := &m.tx
	var err error
	switch f {
	case txRecordID:
		tx.PlatformRecordID = rec.String(key)
	case txSystemConfigID:
		tx.SystemConfigID = rec.String(key)
	case txReportedTime:
		t, ok, perr := rec.Time(key, reportLoc)
		if ok {
			m.reportedAt = &t
		}
		err = perr
	case txType:
		var n int64
		n, _, err = rec.Int64(key)
		tx.TransactionType = models.TransactionType(n)
	case txSubType:
		var n int64
		n, _, err = rec.Int64(key)
		tx.SubType = models.TransactionSubType(n)
	case txLocationCode:
		tx.LocationCode = rec.String(key)
	case txMachineLabel:
		tx.MachineLabel = rec.String(key)
	case txCashAmount:
		tx.CashAmount, err = rec.Decimal(key)
	case txCardNumber:
		tx.CardNumber = rec.String(key)
	case txCreditCardAmount:
		tx.CreditCardAmount, err = rec.Decimal(key)
	case txLoyaltyCardNumber:
		tx.LoyaltyCardNumber = rec.String(key)
	case txBalanceAmount:
		tx.BalanceAmount, err = rec.Decimal(key)
	case txBonusAmount:
		tx.BonusAmount, err = rec.Decimal(key)
	case txLoyaltyPoints:
		tx.LoyaltyPoints, err = recInt(rec, key)
	case txFreeStarts:
		tx.FreeStarts, err = recInt(rec, key)
	case txNewBalance:
		tx.NewBalance, err = rec.Decimal(key)
	case txNewBonus:
		tx.NewBonus, err = rec.Decimal(key)
	case txAdditionalInfo:
		tx.AdditionalInfo = rec.String(key)
	case txExternalUserID:
		tx.ExternalUserID, err = recOptionalInt64(rec, key)
	case txCardHolderName:
		tx.CardHolderName = rec.String(key)
	case txEmployeeUserID:
		tx.EmployeeUserID, err = recOptionalInt64(rec, key)
	case txNewFreeStarts:
		tx.NewFreeStarts, err = recInt(rec, key)
	case txNewLoyaltyPoints:
		tx.NewLoyaltyPoints, err = recInt(rec, key)
	case txRootTransactionID:
		tx.RootTransactionID = rec.String(key)
	case txUnfundedAmount:
		tx.UnfundedAmount, err = rec.Decimal(key)
	default:
		err = fmt.Errorf("unmapped transaction column %d", f)
	}
	return err
}

func mapUser(rec platform.Record, u *models.PlatformUser) error {
	for _, b := range UserFieldMap {
		if _, present := rec[b.Source]; !present {
			continue
		}
		if err := setUserField(u, b.Target, rec, b.Source); err != nil {
			return err
		}
	}
	return nil
}

func setUserField(u *models.PlatformUser, f userField, rec platform.Record, key string) error {
	var err error
	switch f {
	case userAccountID:
		u.ExternalAccountID, _, err = rec.Int64(key)
	case userExternalUserID:
		u.ExternalUserID, err = recOptionalInt64(rec, key)
	case userEmail:
		u.Email = rec.String(key)
	case userName:
		u.Name = rec.String(key)
	case userAddr1:
		u.Addr1 = rec.String(key)
	case userAddr2:
		u.Addr2 = rec.String(key)
	case userCity:
		u.City = rec.String(key)
	case userState:
		u.State = rec.String(key)
	case userZipCode:
		u.ZipCode = rec.String(key)
	case userMobilePhone:
		u.MobilePhone = rec.String(key)
	case userLanguage:
		u.Language = rec.String(key)
	case userIsEmployee:
		u.IsEmployee, err = rec.Bool(key)
	case userBalance:
		u.Balance, err = rec.Decimal(key)
	case userBonus:
		u.Bonus, err = rec.Decimal(key)
	case userLoyaltyPoints:
		u.LoyaltyPoints, err = recInt(rec, key)
	case userFreeStarts:
		u.FreeStarts, err = recInt(rec, key)
	case userDiscount:
		u.Discount, err = rec.Decimal(key)
	case userLastActivityDate:
		t, ok, perr := rec.Time(key, time.UTC)
		if ok {
			naive := common.NaiveSecond(t)
			u.LastActivityDate = &naive
		}
		err = perr
	case userLastLocationID:
		u.LastLocationID, err = recOptionalInt64(rec, key)
	default:
		err = fmt.Errorf("unmapped user column %d", f)
	}
	return err
}

func recInt(rec platform.Record, key string) (int, error) {
	n, _, err := rec.Int64(key)
	return int(n), err
}

func recOptionalInt64(rec platform.Record, key string) (*int64, error) {
	n, ok, err := rec.Int64(key)
	if err != nil || !ok {
		return nil, err
	}
	return &n, nil
}
