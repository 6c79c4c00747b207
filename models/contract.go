package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Contract struct {
	ID             int              `gorm:"primary_key" json:"id"`
	BusinessId     string           `gorm:"index;not null" json:"business_id" binding:"required"`
	ContractNumber string           `gorm:"size:100;not null" json:"contract_number" binding:"required"`
	SupplierName   string           `gorm:"size:255;not null" json:"supplier_name" binding:"required"`
	SignedDate     time.Time        `gorm:"not null" json:"signed_date" binding:"required"`
	Details        []ContractDetail `gorm:"foreignKey:ContractId" json:"details"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type ContractDetail struct {
	ID            int             `gorm:"primary_key" json:"id"`
	ContractId    int             `gorm:"index;not null" json:"contract_id" binding:"required"`
	Name          string          `gorm:"size:255;not null" json:"name" binding:"required"`
	UnitOfMeasure string          `gorm:"size:50" json:"unit_of_measure"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TotalQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_qty"`
	BalanceQty    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance_qty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewContract struct {
	ContractNumber string              `json:"contract_number"`
	SupplierName   string              `json:"supplier_name"`
	SignedDate     time.Time           `json:"signed_date"`
	Details        []NewContractDetail `json:"details"`
}

type NewContractDetail struct {
	Name          string          `json:"name"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalQty      decimal.Decimal `json:"total_qty"`
}

type ContractsConnection struct {
	Edges    []*ContractsEdge `json:"edges"`
	PageInfo *PageInfo        `json:"pageInfo"`
}

type ContractsEdge Edge[Contract]

func (obj Contract) GetId() int {
	return obj.ID
}

// returns decoded curosr string
func (c Contract) GetCursor() string {
	return c.CreatedAt.String()
}

func (input NewContract) validate(ctx context.Context, businessId string, id int) error {
	if input.ContractNumber == "" {
		return utils.NewFieldError("contract_number", "contract number is required")
	}
	if err := utils.ValidateUnique[Contract](ctx, businessId, "contract_number", input.ContractNumber, id); err != nil {
		return err
	}
	if len(input.Details) == 0 {
		return utils.NewBusinessError("contract must have at least one item")
	}
	for _, detail := range input.Details {
		if detail.Name == "" {
			return utils.NewFieldError("name", "item name is required")
		}
		if !detail.TotalQty.IsPositive() {
			return utils.NewFieldError("total_qty", "total quantity must be greater than zero")
		}
		if detail.UnitPrice.IsNegative() {
			return utils.NewFieldError("unit_price", "unit price cannot be negative")
		}
	}
	return nil
}

func CreateContract(ctx context.Context, input *NewContract) (*Contract, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	var details []ContractDetail
	for _, item := range input.Details {
		details = append(details, ContractDetail{
			Name:          item.Name,
			UnitOfMeasure: item.UnitOfMeasure,
			UnitPrice:     item.UnitPrice,
			TotalQty:      item.TotalQty,
			// a fresh item is fully available
			BalanceQty: item.TotalQty,
		})
	}

	contract := Contract{
		BusinessId:     businessId,
		ContractNumber: input.ContractNumber,
		SupplierName:   input.SupplierName,
		SignedDate:     input.SignedDate,
		Details:        details,
	}

	if err := db.WithContext(ctx).Create(&contract).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

func GetContract(ctx context.Context, id int) (*Contract, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}
	return utils.FetchModel[Contract](ctx, businessId, id, "Details")
}

func PaginateContract(ctx context.Context, limit int, after *string) (*ContractsConnection, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}
	db := config.GetDB()
	query := db.WithContext(ctx).Preload("Details").
		Where("business_id = ?", businessId)

	edges, pageInfo, err := FetchPageCompositeCursor[Contract](query, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	connectionEdges := make([]*ContractsEdge, len(edges))
	for i := range edges {
		e := ContractsEdge(edges[i])
		connectionEdges[i] = &e
	}
	return &ContractsConnection{Edges: connectionEdges, PageInfo: pageInfo}, nil
}

// getContractDetail loads one item of a contract owned by the business.
func getContractDetail(tx *gorm.DB, ctx context.Context, businessId string, contractDetailId int) (*ContractDetail, error) {
	var detail ContractDetail
	err := tx.WithContext(ctx).
		Joins("JOIN contracts ON contracts.id = contract_details.contract_id").
		Where("contract_details.id = ? AND contracts.business_id = ?", contractDetailId, businessId).
		First(&detail).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// ReserveContractBalance decrements an item's remaining balance inside the
// caller's transaction. The decrement and the availability check are a single
// conditional UPDATE, so two concurrent orders can never both take the last
// units: whichever statement runs second matches zero rows.
func ReserveContractBalance(tx *gorm.DB, ctx context.Context, businessId string, contractDetailId int, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return utils.NewBusinessError("reserve quantity must be greater than zero")
	}
	// existence first, so a missing item is not reported as insufficient balance
	if _, err := getContractDetail(tx, ctx, businessId, contractDetailId); err != nil {
		return err
	}

	result := tx.WithContext(ctx).Exec(`
		UPDATE contract_details
		JOIN contracts ON contracts.id = contract_details.contract_id
		SET contract_details.balance_qty = contract_details.balance_qty - ?
		WHERE contract_details.id = ? AND contracts.business_id = ? AND contract_details.balance_qty >= ?`,
		qty, contractDetailId, businessId, qty)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorInsufficientBalance
	}
	return nil
}

// ReleaseContractBalance returns a reserved quantity to the item. Guarded so a
// double release can never push the balance above the contracted total.
func ReleaseContractBalance(tx *gorm.DB, ctx context.Context, businessId string, contractDetailId int, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return utils.NewBusinessError("release quantity must be greater than zero")
	}
	if _, err := getContractDetail(tx, ctx, businessId, contractDetailId); err != nil {
		return err
	}

	result := tx.WithContext(ctx).Exec(`
		UPDATE contract_details
		JOIN contracts ON contracts.id = contract_details.contract_id
		SET contract_details.balance_qty = contract_details.balance_qty + ?
		WHERE contract_details.id = ? AND contracts.business_id = ? AND contract_details.balance_qty + ? <= contract_details.total_qty`,
		qty, contractDetailId, businessId, qty)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NewBusinessError("release would exceed contracted quantity")
	}
	return nil
}
