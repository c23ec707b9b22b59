package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/bakery_backend/config"
	"github.com/shopspring/decimal"
)

// ProductionRecord is immutable once created. All corrections happen through
// new productions/restocks; the record itself is never updated or deleted.
type ProductionRecord struct {
	ID          int             `gorm:"primary_key" json:"id"`
	RecipeId    int             `gorm:"index;not null" json:"recipe_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	BatchNumber string          `gorm:"size:100;index;not null" json:"batch_number"`
	Notes       string          `gorm:"type:text" json:"notes"`
	UserId      int             `gorm:"index;not null" json:"user_id"`
	UserName    string          `gorm:"size:100" json:"user_name"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// NewProduction is the validated request body of POST /production.
type NewProduction struct {
	RecipeId    int                       `json:"recipeId" binding:"required"`
	Qty         decimal.Decimal           `json:"quantity" binding:"required"`
	Notes       string                    `json:"notes"`
	Ingredients []NewProductionIngredient `json:"ingredients" binding:"required,dive"`
}

type NewProductionIngredient struct {
	Id     int             `json:"id" binding:"required"`
	Wasted decimal.Decimal `json:"wasted"`
}

type ProductionFilter struct {
	RecipeId    int
	BatchNumber string
	FromDate    *time.Time
	ToDate      *time.Time
	Limit       int
	Offset      int
}

// ListProductions returns a page of production records, newest first, plus the
// total count for the filter.
func ListProductions(ctx context.Context, filter ProductionFilter) ([]*ProductionRecord, int64, error) {

	db := config.GetDB()
	limit, offset := NormalizeListParams(filter.Limit, filter.Offset)

	query := db.WithContext(ctx).Model(&ProductionRecord{})
	if filter.RecipeId > 0 {
		query = query.Where("recipe_id = ?", filter.RecipeId)
	}
	if filter.BatchNumber != "" {
		query = query.Where("batch_number = ?", filter.BatchNumber)
	}
	if filter.FromDate != nil {
		query = query.Where("created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("created_at <= ?", *filter.ToDate)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var productions []*ProductionRecord
	err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&productions).Error
	if err != nil {
		return nil, 0, err
	}
	return productions, total, nil
}
