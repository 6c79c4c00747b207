package models

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeliveryReceipt struct {
	ID              int                     `gorm:"primary_key" json:"id"`
	BusinessId      string                  `gorm:"index;not null;uniqueIndex:uniq_delivery_receipt_number,priority:1" json:"business_id" binding:"required"`
	ReceiptNumber   string                  `gorm:"size:255;not null;uniqueIndex:uniq_delivery_receipt_number,priority:2" json:"receipt_number"`
	DeliveryOrderId int                     `gorm:"index;not null" json:"delivery_order_id" binding:"required"`
	SchoolUnitId    int                     `gorm:"index;not null" json:"school_unit_id" binding:"required"`
	CurrentStatus   DeliveryReceiptStatus   `gorm:"type:enum('Pending','Confirmed','Partial','Rejected');not null" json:"current_status"`
	DeliveredBy     string                  `gorm:"size:255" json:"delivered_by"`
	// single-use; cleared when the unit confirms, never serialized
	ConfirmationToken *string                 `gorm:"size:36;uniqueIndex" json:"-"`
	ParentReceiptId   *int                    `gorm:"index;default:null" json:"parent_receipt_id"`
	ConfirmedAt       *time.Time              `json:"confirmed_at"`
	Details           []DeliveryReceiptDetail `gorm:"foreignKey:DeliveryReceiptId" json:"details"`
	CreatedAt         time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

type DeliveryReceiptDetail struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	DeliveryReceiptId     int             `gorm:"index;not null" json:"delivery_receipt_id" binding:"required"`
	DeliveryOrderDetailId int             `gorm:"index;not null" json:"delivery_order_detail_id" binding:"required"`
	QtyRequested          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_requested"`
	QtyReceived           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_received"`
	Conforming            *bool           `gorm:"default:null" json:"conforming"`
	Notes                 string          `gorm:"size:255" json:"notes"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// GeneratedDeliveryReceipt carries the confirmation payload back to the
// caller. This is the only surface where the token leaves the engine.
type GeneratedDeliveryReceipt struct {
	Receipt         *DeliveryReceipt `json:"receipt"`
	ConfirmationURL string           `json:"confirmation_url"`
}

type DeliveryReceiptsConnection struct {
	Edges    []*DeliveryReceiptsEdge `json:"edges"`
	PageInfo *PageInfo               `json:"pageInfo"`
}

type DeliveryReceiptsEdge Edge[DeliveryReceipt]

func (obj DeliveryReceipt) GetId() int {
	return obj.ID
}

// returns decoded curosr string
func (dr DeliveryReceipt) GetCursor() string {
	return dr.CreatedAt.String()
}

func confirmationURL(token string) string {
	base := strings.TrimRight(os.Getenv("CONFIRMATION_BASE_URL"), "/")
	if base == "" {
		base = "http://localhost:8080/confirm"
	}
	return base + "/" + token
}

// GenerateDeliveryReceipts splits a confirmed order into one pending receipt
// per school unit and moves the order to Delivered, all in one transaction.
func GenerateDeliveryReceipts(ctx context.Context, deliveryOrderId int, deliveredBy string) ([]*GeneratedDeliveryReceipt, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}
	logger := config.GetLogger()
	debug := strings.EqualFold(strings.TrimSpace(os.Getenv("DEBUG_DELIVERY_RECEIPT")), "true")

	tx := db.Begin()

	var deliveryOrder DeliveryOrder
	if err := tx.WithContext(ctx).Preload("Details").
		Where("id = ? AND business_id = ?", deliveryOrderId, businessId).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&deliveryOrder).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	if deliveryOrder.CurrentStatus != DeliveryOrderStatusConfirmed {
		tx.Rollback()
		return nil, utils.ErrorInvalidState
	}
	if len(deliveryOrder.Details) == 0 {
		tx.Rollback()
		return nil, utils.NewBusinessError("delivery order has no lines")
	}

	// group order lines per destination unit
	detailsByUnit := make(map[int][]DeliveryOrderDetail)
	unitIds := make([]int, 0)
	for _, detail := range deliveryOrder.Details {
		if _, seen := detailsByUnit[detail.SchoolUnitId]; !seen {
			unitIds = append(unitIds, detail.SchoolUnitId)
		}
		detailsByUnit[detail.SchoolUnitId] = append(detailsByUnit[detail.SchoolUnitId], detail)
	}
	sort.Ints(unitIds)

	generated := make([]*GeneratedDeliveryReceipt, 0, len(unitIds))
	for _, unitId := range unitIds {
		receiptNumber, err := NextDocumentNumber(tx, ctx, businessId, ModuleNameDeliveryReceipt, "delivery_receipts")
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		token := uuid.NewString()

		var receiptDetails []DeliveryReceiptDetail
		for _, orderDetail := range detailsByUnit[unitId] {
			receiptDetails = append(receiptDetails, DeliveryReceiptDetail{
				DeliveryOrderDetailId: orderDetail.ID,
				QtyRequested:          orderDetail.Qty,
				QtyReceived:           decimal.Zero,
			})
		}

		receipt := DeliveryReceipt{
			BusinessId:        businessId,
			ReceiptNumber:     receiptNumber,
			DeliveryOrderId:   deliveryOrder.ID,
			SchoolUnitId:      unitId,
			CurrentStatus:     DeliveryReceiptStatusPending,
			DeliveredBy:       deliveredBy,
			ConfirmationToken: &token,
			Details:           receiptDetails,
		}
		if err := tx.WithContext(ctx).Create(&receipt).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := PublishToDistribution(ctx, tx, businessId, time.Now().UTC(), receipt.ID, DistributionReferenceTypeDeliveryReceipt, receipt, PubSubMessageActionCreate); err != nil {
			tx.Rollback()
			return nil, err
		}
		generated = append(generated, &GeneratedDeliveryReceipt{
			Receipt:         &receipt,
			ConfirmationURL: confirmationURL(token),
		})
	}

	if err := tx.WithContext(ctx).Model(&deliveryOrder).
		Update("CurrentStatus", DeliveryOrderStatusDelivered).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	deliveryOrder.CurrentStatus = DeliveryOrderStatusDelivered

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if debug {
		logger.WithFields(logrus.Fields{
			"field":             "GenerateDeliveryReceipts",
			"business_id":       businessId,
			"delivery_order_id": deliveryOrder.ID,
			"receipts_count":    len(generated),
		}).Info("delivery receipts generated")
	}
	return generated, nil
}

func GetDeliveryReceipt(ctx context.Context, id int) (*DeliveryReceipt, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}
	return utils.FetchModel[DeliveryReceipt](ctx, businessId, id, "Details")
}

// GetReceiptsByOrder loads the whole receipt forest of an order, roots and
// complementary children alike, ordered by id.
func GetReceiptsByOrder(ctx context.Context, businessId string, deliveryOrderId int) ([]*DeliveryReceipt, error) {
	db := config.GetDB()
	var receipts []*DeliveryReceipt
	err := db.WithContext(ctx).Preload("Details").
		Where("business_id = ? AND delivery_order_id = ?", businessId, deliveryOrderId).
		Order("id ASC").
		Find(&receipts).Error
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// GetReceiptChain walks from a root receipt down its complementary
// descendants. The forest is flat (parent id links only), so the walk is an
// index over the order's receipts rather than a recursive query.
func GetReceiptChain(ctx context.Context, rootId int) ([]*DeliveryReceipt, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}

	root, err := utils.FetchModel[DeliveryReceipt](ctx, businessId, rootId, "Details")
	if err != nil {
		return nil, err
	}

	receipts, err := GetReceiptsByOrder(ctx, businessId, root.DeliveryOrderId)
	if err != nil {
		return nil, err
	}

	children := make(map[int][]*DeliveryReceipt)
	for _, receipt := range receipts {
		if receipt.ParentReceiptId != nil {
			children[*receipt.ParentReceiptId] = append(children[*receipt.ParentReceiptId], receipt)
		}
	}

	chain := []*DeliveryReceipt{root}
	for i := 0; i < len(chain); i++ {
		chain = append(chain, children[chain[i].ID]...)
	}
	return chain, nil
}

func PaginateDeliveryReceipt(ctx context.Context, limit int, after *string, status *DeliveryReceiptStatus) (*DeliveryReceiptsConnection, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}
	db := config.GetDB()
	query := db.WithContext(ctx).Preload("Details").
		Where("business_id = ?", businessId)
	if status != nil {
		query = query.Where("current_status = ?", *status)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[DeliveryReceipt](query, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	connectionEdges := make([]*DeliveryReceiptsEdge, len(edges))
	for i := range edges {
		e := DeliveryReceiptsEdge(edges[i])
		connectionEdges[i] = &e
	}
	return &DeliveryReceiptsConnection{Edges: connectionEdges, PageInfo: pageInfo}, nil
}
