package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"gorm.io/gorm"
)

// fallback prefixes when a business has not configured its own number series
var defaultDocumentPrefixes = map[string]string{
	ModuleNameDeliveryOrder:   "OD",
	ModuleNameDeliveryReceipt: "RC",
}

// get transactionPrefix for module, redis or db
func getTransactionPrefix(ctx context.Context, businessId string, moduleName string) (string, error) {
	transactionPrefixes := make(map[string]string, 0) // moduleName => prefix
	redisKey := "tnsPrefixMap:" + businessId
	exists, err := config.GetRedisObject(redisKey, &transactionPrefixes)
	if err != nil {
		return "", err
	}
	if !exists {

		// retrieves moduleName:prefix map of the business from db
		db := config.GetDB()
		var seriesId int
		if err := db.WithContext(ctx).Model(&TransactionNumberSeries{}).
			Where("business_id = ?", businessId).Select("id").Limit(1).Scan(&seriesId).Error; err != nil {
			return "", err
		}
		var tnsModules []*TransactionNumberSeriesModule
		if err := db.WithContext(ctx).Model(&TransactionNumberSeriesModule{}).
			Where("series_id = ?", seriesId).Find(&tnsModules).Error; err != nil {
			return "", err
		}

		for _, modulePrefix := range tnsModules {
			transactionPrefixes[modulePrefix.ModuleName] = modulePrefix.Prefix
		}
		if err := config.SetRedisObject(redisKey, &transactionPrefixes, 0); err != nil {
			return "", err
		}
	}

	prefix, ok := transactionPrefixes[moduleName]
	if !ok || prefix == "" {
		return "", nil
	}
	return prefix, nil
}

// NextDocumentNumber builds the next sequential document number for a module
// ("<prefix>-<seq>"), counting inside the caller's transaction. Two
// transactions racing on the same count produce the same number; the unique
// (business_id, number) index on the document tables rejects the loser's
// insert so a duplicate can never be committed.
func NextDocumentNumber(tx *gorm.DB, ctx context.Context, businessId string, moduleName string, tableName string) (string, error) {
	prefix, err := getTransactionPrefix(ctx, businessId, moduleName)
	if err != nil {
		return "", err
	}
	if prefix == "" {
		prefix = defaultDocumentPrefixes[moduleName]
	}

	var count int64
	if err := tx.WithContext(ctx).Table(tableName).
		Where("business_id = ?", businessId).Count(&count).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%06d", prefix, count+1), nil
}

// truncate to a calendar date in UTC
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
