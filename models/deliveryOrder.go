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
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeliveryOrder struct {
	ID                    int                   `gorm:"primary_key" json:"id"`
	BusinessId            string                `gorm:"index;not null;uniqueIndex:uniq_delivery_order_number,priority:1" json:"business_id" binding:"required"`
	OrderNumber           string                `gorm:"size:255;not null;uniqueIndex:uniq_delivery_order_number,priority:2" json:"order_number"`
	ContractId            int                   `gorm:"index;not null" json:"contract_id" binding:"required"`
	RequestedDeliveryDate time.Time             `gorm:"not null" json:"requested_delivery_date" binding:"required"`
	CurrentStatus         DeliveryOrderStatus   `gorm:"type:enum('Pending','Confirmed','Delivered','Cancelled');not null" json:"current_status"`
	TotalValue            decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"total_value"`
	Details               []DeliveryOrderDetail `gorm:"foreignKey:DeliveryOrderId" json:"details"`
	CreatedAt             time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type DeliveryOrderDetail struct {
	ID               int             `gorm:"primary_key" json:"id"`
	DeliveryOrderId  int             `gorm:"index;not null" json:"delivery_order_id" binding:"required"`
	ContractDetailId int             `gorm:"index;not null" json:"contract_detail_id" binding:"required"`
	SchoolUnitId     int             `gorm:"index;not null" json:"school_unit_id" binding:"required"`
	Qty              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDeliveryOrder struct {
	ContractId            int                      `json:"contract_id"`
	RequestedDeliveryDate time.Time                `json:"requested_delivery_date"`
	Details               []NewDeliveryOrderDetail `json:"details"`
}

type NewDeliveryOrderDetail struct {
	ContractDetailId int             `json:"contract_detail_id"`
	SchoolUnitId     int             `json:"school_unit_id"`
	Qty              decimal.Decimal `json:"qty"`
}

type DeliveryOrdersConnection struct {
	Edges    []*DeliveryOrdersEdge `json:"edges"`
	PageInfo *PageInfo             `json:"pageInfo"`
}

type DeliveryOrdersEdge Edge[DeliveryOrder]

func (obj DeliveryOrder) GetId() int {
	return obj.ID
}

// returns decoded curosr string
func (do DeliveryOrder) GetCursor() string {
	return do.CreatedAt.String()
}

func (input NewDeliveryOrder) validate(ctx context.Context, businessId string, _ int) error {
	if err := utils.ValidateResourceId[Contract](ctx, businessId, input.ContractId); err != nil {
		return utils.NewBusinessError("contract not found")
	}
	if input.RequestedDeliveryDate.Before(dateOnly(time.Now())) {
		return utils.NewFieldError("requested_delivery_date", "requested delivery date cannot be in the past")
	}
	if len(input.Details) == 0 {
		return utils.NewBusinessError("delivery order must have at least one line")
	}
	unitIds := make([]int, 0, len(input.Details))
	for _, detail := range input.Details {
		if !detail.Qty.IsPositive() {
			return utils.NewFieldError("qty", "quantity must be greater than zero")
		}
		unitIds = append(unitIds, detail.SchoolUnitId)
	}
	if err := utils.ValidateResourcesId[SchoolUnit](ctx, businessId, utils.UniqueSlice(unitIds)); err != nil {
		return utils.NewBusinessError("school unit not found")
	}
	return nil
}

// requestedPerContractDetail folds order lines into total requested quantity
// per contract item. The same item may appear on lines for several units.
func requestedPerContractDetail(details []NewDeliveryOrderDetail) map[int]decimal.Decimal {
	requested := make(map[int]decimal.Decimal)
	for _, detail := range details {
		requested[detail.ContractDetailId] = requested[detail.ContractDetailId].Add(detail.Qty)
	}
	return requested
}

func CreateDeliveryOrder(ctx context.Context, input *NewDeliveryOrder) (*DeliveryOrder, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}
	logger := config.GetLogger()
	debug := strings.EqualFold(strings.TrimSpace(os.Getenv("DEBUG_DELIVERY_ORDER")), "true")

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	requested := requestedPerContractDetail(input.Details)

	// deterministic reserve order across concurrent creates
	contractDetailIds := make([]int, 0, len(requested))
	for id := range requested {
		contractDetailIds = append(contractDetailIds, id)
	}
	sort.Ints(contractDetailIds)

	if debug {
		logger.WithFields(logrus.Fields{
			"field":         "CreateDeliveryOrder",
			"business_id":   businessId,
			"contract_id":   input.ContractId,
			"details_count": len(input.Details),
		}).Info("begin delivery order create")
	}

	tx := db.Begin()

	var totalValue decimal.Decimal
	var orderDetails []DeliveryOrderDetail
	unitPrices := make(map[int]decimal.Decimal)
	for _, id := range contractDetailIds {
		contractDetail, err := getContractDetail(tx, ctx, businessId, id)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if contractDetail.ContractId != input.ContractId {
			tx.Rollback()
			return nil, utils.NewBusinessError("contract item does not belong to the contract")
		}
		unitPrices[id] = contractDetail.UnitPrice
		if err := ReserveContractBalance(tx, ctx, businessId, id, requested[id]); err != nil {
			if debug {
				logger.WithFields(logrus.Fields{
					"field":              "CreateDeliveryOrder",
					"business_id":        businessId,
					"contract_detail_id": id,
					"requested_qty":      requested[id],
					"error":              err.Error(),
				}).Error("balance reserve failed; rollback")
			}
			tx.Rollback()
			return nil, err
		}
	}
	for _, detail := range input.Details {
		orderDetails = append(orderDetails, DeliveryOrderDetail{
			ContractDetailId: detail.ContractDetailId,
			SchoolUnitId:     detail.SchoolUnitId,
			Qty:              detail.Qty,
		})
		totalValue = totalValue.Add(detail.Qty.Mul(unitPrices[detail.ContractDetailId]))
	}

	orderNumber, err := NextDocumentNumber(tx, ctx, businessId, ModuleNameDeliveryOrder, "delivery_orders")
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	deliveryOrder := DeliveryOrder{
		BusinessId:            businessId,
		OrderNumber:           orderNumber,
		ContractId:            input.ContractId,
		RequestedDeliveryDate: input.RequestedDeliveryDate,
		CurrentStatus:         DeliveryOrderStatusConfirmed,
		TotalValue:            totalValue,
		Details:               orderDetails,
	}
	if err := tx.WithContext(ctx).Create(&deliveryOrder).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := PublishToDistribution(ctx, tx, businessId, time.Now().UTC(), deliveryOrder.ID, DistributionReferenceTypeDeliveryOrder, deliveryOrder, PubSubMessageActionCreate); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if debug {
		logger.WithFields(logrus.Fields{
			"field":             "CreateDeliveryOrder",
			"business_id":       businessId,
			"delivery_order_id": deliveryOrder.ID,
			"order_number":      deliveryOrder.OrderNumber,
			"total_value":       deliveryOrder.TotalValue,
		}).Info("delivery order created")
	}
	return &deliveryOrder, nil
}

// CancelDeliveryOrder releases the reserved contract balances and marks the
// order Cancelled. Once receipts exist the order is in the field and can no
// longer be cancelled.
func CancelDeliveryOrder(ctx context.Context, id int) (*DeliveryOrder, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}

	tx := db.Begin()

	var deliveryOrder DeliveryOrder
	if err := tx.WithContext(ctx).Preload("Details").
		Where("id = ? AND business_id = ?", id, businessId).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&deliveryOrder).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	if deliveryOrder.CurrentStatus != DeliveryOrderStatusPending &&
		deliveryOrder.CurrentStatus != DeliveryOrderStatusConfirmed {
		tx.Rollback()
		return nil, utils.ErrorInvalidState
	}

	receiptCount, err := utils.ResourceCountWhere[DeliveryReceipt](ctx, businessId, "delivery_order_id = ?", id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if receiptCount > 0 {
		tx.Rollback()
		return nil, utils.NewBusinessError("delivery order already has receipts and cannot be cancelled")
	}

	// give the reserved quantities back, one conditional update per item
	released := requestedPerOrderDetail(deliveryOrder.Details)
	contractDetailIds := make([]int, 0, len(released))
	for detailId := range released {
		contractDetailIds = append(contractDetailIds, detailId)
	}
	sort.Ints(contractDetailIds)
	for _, detailId := range contractDetailIds {
		if err := ReleaseContractBalance(tx, ctx, businessId, detailId, released[detailId]); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.WithContext(ctx).Model(&deliveryOrder).
		Update("CurrentStatus", DeliveryOrderStatusCancelled).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	deliveryOrder.CurrentStatus = DeliveryOrderStatusCancelled

	if err := PublishToDistribution(ctx, tx, businessId, time.Now().UTC(), deliveryOrder.ID, DistributionReferenceTypeDeliveryOrder, deliveryOrder, PubSubMessageActionUpdate); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &deliveryOrder, nil
}

func requestedPerOrderDetail(details []DeliveryOrderDetail) map[int]decimal.Decimal {
	requested := make(map[int]decimal.Decimal)
	for _, detail := range details {
		requested[detail.ContractDetailId] = requested[detail.ContractDetailId].Add(detail.Qty)
	}
	return requested
}

func GetDeliveryOrder(ctx context.Context, id int) (*DeliveryOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}
	return utils.FetchModel[DeliveryOrder](ctx, businessId, id, "Details")
}

func PaginateDeliveryOrder(ctx context.Context, limit int, after *string, status *DeliveryOrderStatus) (*DeliveryOrdersConnection, error) {
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

	edges, pageInfo, err := FetchPageCompositeCursor[DeliveryOrder](query, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	connectionEdges := make([]*DeliveryOrdersEdge, len(edges))
	for i := range edges {
		e := DeliveryOrdersEdge(edges[i])
		connectionEdges[i] = &e
	}
	return &DeliveryOrdersConnection{Edges: connectionEdges, PageInfo: pageInfo}, nil
}
