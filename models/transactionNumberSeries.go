package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"gorm.io/gorm"
)

const (
	ModuleNameDeliveryOrder   = "DeliveryOrder"
	ModuleNameDeliveryReceipt = "DeliveryReceipt"
)

type TransactionNumberSeries struct {
	ID         int                             `gorm:"primary_key" json:"id"`
	BusinessId string                          `gorm:"index;not null" json:"business_id" binding:"required"`
	Name       string                          `gorm:"size:100;not null" json:"name" binding:"required"`
	Modules    []TransactionNumberSeriesModule `gorm:"foreignKey:SeriesId" json:"modules"`
	CreatedAt  time.Time                       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time                       `gorm:"autoUpdateTime" json:"updated_at"`
}

type TransactionNumberSeriesModule struct {
	SeriesId   int    `gorm:"primaryKey;autoIncrement:false" json:"series_id" binding:"required"`
	ModuleName string `gorm:"primaryKey;autoIncrement:false" json:"module_name" binding:"required"`
	Prefix     string `gorm:"size:10" json:"prefix"`
}

type NewTransactionNumberSeries struct {
	Name    string                             `json:"name" binding:"required"`
	Modules []NewTransactionNumberSeriesModule `json:"modules"`
}

type NewTransactionNumberSeriesModule struct {
	ModuleName string `json:"module_name" binding:"required"`
	Prefix     string `json:"prefix"`
}

// validate input for both create & update. (id = 0 for create)

func (input *NewTransactionNumberSeries) validate(ctx context.Context, businessId string, id int) error {
	// name
	if err := utils.ValidateUnique[TransactionNumberSeries](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	for _, m := range input.Modules {
		if m.ModuleName != ModuleNameDeliveryOrder && m.ModuleName != ModuleNameDeliveryReceipt {
			return utils.NewBusinessError("invalid module name")
		}
	}
	return nil
}

func mapTransactionNumberSeriesModule(input []NewTransactionNumberSeriesModule) []TransactionNumberSeriesModule {
	modules := make([]TransactionNumberSeriesModule, 0)
	for _, m := range input {
		modules = append(modules, TransactionNumberSeriesModule{
			ModuleName: m.ModuleName,
			Prefix:     m.Prefix,
		})
	}

	return modules
}

func CreateTransactionNumberSeries(ctx context.Context, input *NewTransactionNumberSeries) (*TransactionNumberSeries, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}

	// validate name
	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	series := TransactionNumberSeries{
		BusinessId: businessId,
		Name:       input.Name,
		Modules:    mapTransactionNumberSeriesModule(input.Modules),
	}

	db := config.GetDB()
	// db action
	err := db.WithContext(ctx).Create(&series).Error
	if err != nil {
		return nil, err
	}
	// prefix map is cached per business; invalidate on change
	_ = config.RemoveRedisKey("tnsPrefixMap:" + businessId)
	return &series, nil
}

func UpdateTransactionNumberSeries(ctx context.Context, id int, input *NewTransactionNumberSeries) (*TransactionNumberSeries, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	modules := mapTransactionNumberSeriesModule(input.Modules)

	series, err := utils.FetchModel[TransactionNumberSeries](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	// db action
	if err = tx.WithContext(ctx).Model(&series).
		Updates(map[string]interface{}{
			"Name": input.Name,
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err = tx.WithContext(ctx).Model(&series).
		Session(&gorm.Session{FullSaveAssociations: true, SkipHooks: true}).
		Association("Modules").
		Unscoped().Replace(&modules); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	_ = config.RemoveRedisKey("tnsPrefixMap:" + businessId)

	return series, nil
}

func GetTransactionNumberSeries(ctx context.Context, id int) (*TransactionNumberSeries, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}
	return utils.FetchModel[TransactionNumberSeries](ctx, businessId, id, "Modules")
}
