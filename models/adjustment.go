package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReceiptAdjustment corrects one receipt detail after a partial or rejected
// confirmation. A nil CorrectedQty leaves the detail as confirmed and routes
// its shortfall to the complementary receipt.
type ReceiptAdjustment struct {
	DeliveryReceiptDetailId int              `json:"delivery_receipt_detail_id"`
	CorrectedQty            *decimal.Decimal `json:"corrected_qty"`
	Notes                   string           `json:"notes"`
}

type resolvedAdjustmentDetail struct {
	DetailId              int
	DeliveryOrderDetailId int
	CorrectedQty          decimal.Decimal
	Conforming            bool
	Notes                 string
	Shortfall             decimal.Decimal
}

// resolveReceiptAdjustment settles every detail of a partial/rejected receipt:
// the corrected quantity becomes the conforming received amount and whatever
// is still missing becomes that detail's shortfall. Pure.
func resolveReceiptAdjustment(details []DeliveryReceiptDetail, adjustments []ReceiptAdjustment) ([]resolvedAdjustmentDetail, error) {
	byDetailId := make(map[int]ReceiptAdjustment, len(adjustments))
	for _, adjustment := range adjustments {
		if _, dup := byDetailId[adjustment.DeliveryReceiptDetailId]; dup {
			return nil, utils.NewFieldError("delivery_receipt_detail_id", "duplicate adjustment for receipt item")
		}
		byDetailId[adjustment.DeliveryReceiptDetailId] = adjustment
	}

	known := make(map[int]bool, len(details))
	for _, detail := range details {
		known[detail.ID] = true
	}
	for detailId := range byDetailId {
		if !known[detailId] {
			return nil, utils.NewFieldError("delivery_receipt_detail_id", "receipt item not found on this receipt")
		}
	}

	resolved := make([]resolvedAdjustmentDetail, 0, len(details))
	for _, detail := range details {
		adjustment, adjusted := byDetailId[detail.ID]
		corrected := detail.QtyReceived
		notes := detail.Notes
		if adjusted && adjustment.CorrectedQty != nil {
			corrected = *adjustment.CorrectedQty
			notes = adjustment.Notes
		}
		if corrected.LessThan(detail.QtyReceived) {
			return nil, utils.NewFieldError("corrected_qty", "corrected quantity cannot be below the quantity already received")
		}
		if corrected.GreaterThan(detail.QtyRequested) {
			return nil, utils.NewFieldError("corrected_qty", "corrected quantity cannot exceed requested quantity")
		}

		resolved = append(resolved, resolvedAdjustmentDetail{
			DetailId:              detail.ID,
			DeliveryOrderDetailId: detail.DeliveryOrderDetailId,
			CorrectedQty:          corrected,
			Conforming:            corrected.IsPositive(),
			Notes:                 notes,
			Shortfall:             detail.QtyRequested.Sub(corrected),
		})
	}
	return resolved, nil
}

// AdjustDeliveryReceipt settles a Partial or Rejected receipt and, when any
// detail is still short, opens exactly one complementary receipt for the
// remainder in the same transaction. Chains recurse: the complementary
// receipt goes through the normal confirm/adjust cycle itself.
func AdjustDeliveryReceipt(ctx context.Context, receiptId int, adjustments []ReceiptAdjustment) (*DeliveryReceipt, *GeneratedDeliveryReceipt, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, utils.NewBusinessError("business id is required")
	}

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, fmt.Sprintf("receiptAdjust:%d", receiptId), 10*time.Second, nil)
		if err == nil {
			defer lock.Release(context.WithoutCancel(ctx))
		} else if err != redislock.ErrNotObtained {
			config.LogError(config.GetLogger(), "models", "AdjustDeliveryReceipt", "obtain redis lock", receiptId, err)
		}
	}

	tx := db.Begin()

	var receipt DeliveryReceipt
	err := tx.WithContext(ctx).Preload("Details").
		Where("id = ? AND business_id = ?", receiptId, businessId).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tx.Rollback()
		return nil, nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	if receipt.CurrentStatus != DeliveryReceiptStatusPartial &&
		receipt.CurrentStatus != DeliveryReceiptStatusRejected {
		tx.Rollback()
		return nil, nil, utils.ErrorInvalidState
	}

	// one adjustment per receipt: once a complementary child exists the
	// remainder is tracked there
	var childCount int64
	if err := tx.WithContext(ctx).Model(&DeliveryReceipt{}).
		Where("parent_receipt_id = ?", receipt.ID).Count(&childCount).Error; err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if childCount > 0 {
		tx.Rollback()
		return nil, nil, utils.ErrorInvalidState
	}

	resolved, err := resolveReceiptAdjustment(receipt.Details, adjustments)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	for _, r := range resolved {
		if err := tx.WithContext(ctx).Model(&DeliveryReceiptDetail{}).
			Where("id = ?", r.DetailId).
			Updates(map[string]interface{}{
				"qty_received": r.CorrectedQty,
				"conforming":   r.Conforming,
				"notes":        r.Notes,
			}).Error; err != nil {
			tx.Rollback()
			return nil, nil, err
		}
	}
	for i := range receipt.Details {
		for _, r := range resolved {
			if receipt.Details[i].ID == r.DetailId {
				receipt.Details[i].QtyReceived = r.CorrectedQty
				conforming := r.Conforming
				receipt.Details[i].Conforming = &conforming
				receipt.Details[i].Notes = r.Notes
			}
		}
	}

	now := time.Now().UTC()

	var generated *GeneratedDeliveryReceipt
	var shortDetails []DeliveryReceiptDetail
	for _, r := range resolved {
		if r.Shortfall.IsPositive() {
			shortDetails = append(shortDetails, DeliveryReceiptDetail{
				DeliveryOrderDetailId: r.DeliveryOrderDetailId,
				QtyRequested:          r.Shortfall,
				QtyReceived:           decimal.Zero,
			})
		}
	}
	if len(shortDetails) > 0 {
		receiptNumber, err := NextDocumentNumber(tx, ctx, businessId, ModuleNameDeliveryReceipt, "delivery_receipts")
		if err != nil {
			tx.Rollback()
			return nil, nil, err
		}
		token := uuid.NewString()
		parentId := receipt.ID
		complementary := DeliveryReceipt{
			BusinessId:        businessId,
			ReceiptNumber:     receiptNumber,
			DeliveryOrderId:   receipt.DeliveryOrderId,
			SchoolUnitId:      receipt.SchoolUnitId,
			CurrentStatus:     DeliveryReceiptStatusPending,
			DeliveredBy:       receipt.DeliveredBy,
			ConfirmationToken: &token,
			ParentReceiptId:   &parentId,
			Details:           shortDetails,
		}
		if err := tx.WithContext(ctx).Create(&complementary).Error; err != nil {
			tx.Rollback()
			return nil, nil, err
		}
		if err := PublishToDistribution(ctx, tx, businessId, now, complementary.ID, DistributionReferenceTypeDeliveryReceipt, complementary, PubSubMessageActionCreate); err != nil {
			tx.Rollback()
			return nil, nil, err
		}
		generated = &GeneratedDeliveryReceipt{
			Receipt:         &complementary,
			ConfirmationURL: confirmationURL(token),
		}
	}

	if err := PublishToDistribution(ctx, tx, businessId, now, receipt.ID, DistributionReferenceTypeDeliveryReceipt, receipt, PubSubMessageActionUpdate); err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, nil, err
	}
	return &receipt, generated, nil
}
