package models

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReceiptConfirmationSubmission is one line of what the unit actually
// received, keyed by the receipt detail it answers.
type ReceiptConfirmationSubmission struct {
	DeliveryReceiptDetailId int             `json:"delivery_receipt_detail_id"`
	QtyReceived             decimal.Decimal `json:"qty_received"`
	Defect                  bool            `json:"defect"`
	Notes                   string          `json:"notes"`
}

type resolvedReceiptDetail struct {
	DetailId    int
	QtyReceived decimal.Decimal
	Conforming  bool
	Notes       string
}

// resolveReceiptConfirmation derives the post-confirmation state of every
// detail and the receipt status from the unit's submissions. Pure: no
// database, no clock. Unsubmitted details count as not received.
func resolveReceiptConfirmation(details []DeliveryReceiptDetail, submissions []ReceiptConfirmationSubmission) (DeliveryReceiptStatus, []resolvedReceiptDetail, error) {
	byDetailId := make(map[int]ReceiptConfirmationSubmission, len(submissions))
	for _, submission := range submissions {
		if _, dup := byDetailId[submission.DeliveryReceiptDetailId]; dup {
			return "", nil, utils.NewFieldError("delivery_receipt_detail_id", "duplicate submission for receipt item")
		}
		byDetailId[submission.DeliveryReceiptDetailId] = submission
	}

	known := make(map[int]bool, len(details))
	for _, detail := range details {
		known[detail.ID] = true
	}
	for detailId := range byDetailId {
		if !known[detailId] {
			return "", nil, utils.NewFieldError("delivery_receipt_detail_id", "receipt item not found on this receipt")
		}
	}

	resolved := make([]resolvedReceiptDetail, 0, len(details))
	allConforming := true
	allZero := true
	for _, detail := range details {
		submission, submitted := byDetailId[detail.ID]
		qty := decimal.Zero
		defect := false
		notes := ""
		if submitted {
			qty = submission.QtyReceived
			defect = submission.Defect
			notes = submission.Notes
		}
		if qty.IsNegative() {
			return "", nil, utils.NewFieldError("qty_received", "received quantity cannot be negative")
		}
		if qty.GreaterThan(detail.QtyRequested) {
			return "", nil, utils.NewFieldError("qty_received", "received quantity cannot exceed requested quantity")
		}

		conforming := qty.Equal(detail.QtyRequested) && !defect
		if !conforming {
			allConforming = false
		}
		if !qty.IsZero() {
			allZero = false
		}
		resolved = append(resolved, resolvedReceiptDetail{
			DetailId:    detail.ID,
			QtyReceived: qty,
			Conforming:  conforming,
			Notes:       notes,
		})
	}

	status := DeliveryReceiptStatusPartial
	if allConforming {
		status = DeliveryReceiptStatusConfirmed
	} else if allZero {
		status = DeliveryReceiptStatusRejected
	}
	return status, resolved, nil
}

// confirmationLockKey derives the redis lock key from the token. The token
// only ever travels inside the confirmation URL, so the key carries a digest
// of it, never the token itself.
func confirmationLockKey(token string) string {
	digest := sha256.Sum256([]byte(token))
	return fmt.Sprintf("receiptConfirm:%x", digest)
}

// ConfirmDeliveryReceipt applies the unit's confirmation reached through the
// single-use token. The token is cleared in the same transaction, so a second
// submission of the same link lands on record-not-found.
func ConfirmDeliveryReceipt(ctx context.Context, token string, submissions []ReceiptConfirmationSubmission) (*DeliveryReceipt, error) {
	if token == "" {
		return nil, utils.ErrorRecordNotFound
	}
	db := config.GetDB()

	// best-effort serialization of concurrent submissions; the row lock below
	// is the actual guarantee
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, confirmationLockKey(token), 10*time.Second, nil)
		if err == nil {
			defer lock.Release(context.WithoutCancel(ctx))
		} else if err != redislock.ErrNotObtained {
			config.LogError(config.GetLogger(), "models", "ConfirmDeliveryReceipt", "obtain redis lock", nil, err)
		}
	}

	tx := db.Begin()

	var receipt DeliveryReceipt
	err := tx.WithContext(ctx).Preload("Details").
		Where("confirmation_token = ?", token).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if receipt.CurrentStatus != DeliveryReceiptStatusPending {
		tx.Rollback()
		return nil, utils.ErrorInvalidState
	}

	status, resolved, err := resolveReceiptConfirmation(receipt.Details, submissions)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, r := range resolved {
		if err := tx.WithContext(ctx).Model(&DeliveryReceiptDetail{}).
			Where("id = ?", r.DetailId).
			Updates(map[string]interface{}{
				"qty_received": r.QtyReceived,
				"conforming":   r.Conforming,
				"notes":        r.Notes,
			}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	now := time.Now().UTC()
	if err := tx.WithContext(ctx).Model(&receipt).
		Updates(map[string]interface{}{
			"current_status":     status,
			"confirmed_at":       &now,
			"confirmation_token": nil,
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	receipt.CurrentStatus = status
	receipt.ConfirmedAt = &now
	receipt.ConfirmationToken = nil
	for i := range receipt.Details {
		for _, r := range resolved {
			if receipt.Details[i].ID == r.DetailId {
				receipt.Details[i].QtyReceived = r.QtyReceived
				conforming := r.Conforming
				receipt.Details[i].Conforming = &conforming
				receipt.Details[i].Notes = r.Notes
			}
		}
	}

	if err := PublishToDistribution(ctx, tx, receipt.BusinessId, now, receipt.ID, DistributionReferenceTypeDeliveryReceipt, receipt, PubSubMessageActionUpdate); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &receipt, nil
}
