package models

import (
	"bitbucket.org/mmdatafocus/distribution_backend/config"
)

func MigrateTable() error {
	db := config.GetDB()
	return db.AutoMigrate(
		&Contract{},
		&ContractDetail{},
		&SchoolUnit{},
		&DeliveryOrder{},
		&DeliveryOrderDetail{},
		&DeliveryReceipt{},
		&DeliveryReceiptDetail{},
		&TransactionNumberSeries{},
		&TransactionNumberSeriesModule{},
		&DistributionMessageRecord{},
	)
}
