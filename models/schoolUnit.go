package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
)

type SchoolUnit struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id" binding:"required"`
	Code       string    `gorm:"size:50;not null" json:"code" binding:"required"`
	Name       string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Address    string    `gorm:"size:255" json:"address"`
	Phone      string    `gorm:"size:20" json:"phone"`
	Active     *bool     `gorm:"default:true" json:"active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSchoolUnit struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Active  *bool  `json:"active"`
}

type SchoolUnitsConnection struct {
	Edges    []*SchoolUnitsEdge `json:"edges"`
	PageInfo *PageInfo          `json:"pageInfo"`
}

type SchoolUnitsEdge Edge[SchoolUnit]

func (obj SchoolUnit) GetId() int {
	return obj.ID
}

func (su SchoolUnit) GetCursor() string {
	return su.CreatedAt.String()
}

func (input NewSchoolUnit) validate(ctx context.Context, businessId string, id int) error {
	if input.Code == "" {
		return utils.NewFieldError("code", "code is required")
	}
	if input.Name == "" {
		return utils.NewFieldError("name", "name is required")
	}
	if err := utils.ValidateUnique[SchoolUnit](ctx, businessId, "code", input.Code, id); err != nil {
		return err
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.NewFieldError("phone", "invalid phone number")
		}
	}
	return nil
}

func CreateSchoolUnit(ctx context.Context, input *NewSchoolUnit) (*SchoolUnit, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	active := input.Active
	if active == nil {
		active = utils.NewTrue()
	}

	unit := SchoolUnit{
		BusinessId: businessId,
		Code:       input.Code,
		Name:       input.Name,
		Address:    input.Address,
		Phone:      input.Phone,
		Active:     active,
	}
	if err := db.WithContext(ctx).Create(&unit).Error; err != nil {
		return nil, err
	}
	return &unit, nil
}

func UpdateSchoolUnit(ctx context.Context, id int, input *NewSchoolUnit) (*SchoolUnit, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}
	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	unit, err := utils.FetchModel[SchoolUnit](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	updates := map[string]interface{}{
		"Code":    input.Code,
		"Name":    input.Name,
		"Address": input.Address,
		"Phone":   input.Phone,
	}
	if input.Active != nil {
		updates["Active"] = input.Active
	}
	if err := db.WithContext(ctx).Model(&unit).Updates(updates).Error; err != nil {
		return nil, err
	}
	return unit, nil
}

func GetSchoolUnit(ctx context.Context, id int) (*SchoolUnit, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}
	return utils.FetchModel[SchoolUnit](ctx, businessId, id)
}

func PaginateSchoolUnit(ctx context.Context, limit int, after *string) (*SchoolUnitsConnection, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewBusinessError("business id is required")
	}
	db := config.GetDB()
	query := db.WithContext(ctx).
		Where("business_id = ?", businessId)

	edges, pageInfo, err := FetchPageCompositeCursor[SchoolUnit](query, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	connectionEdges := make([]*SchoolUnitsEdge, len(edges))
	for i := range edges {
		e := SchoolUnitsEdge(edges[i])
		connectionEdges[i] = &e
	}
	return &SchoolUnitsConnection{Edges: connectionEdges, PageInfo: pageInfo}, nil
}
