package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/bakery_backend/config"
	"github.com/mmdatafocus/bakery_backend/utils"
	"github.com/shopspring/decimal"
)

// Ingredient carries a cached CurrentStock. The authoritative value is the sum
// of its batches' remaining quantities; the cache is maintained transactionally
// alongside every batch mutation and can be recomputed with cmd/stock-rebuild.
type Ingredient struct {
	ID           int             `gorm:"primary_key" json:"id"`
	Name         string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Unit         string          `gorm:"size:20;not null" json:"unit" binding:"required"`
	MinimumStock decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"minimum_stock"`
	IdealStock   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"ideal_stock"`
	CurrentStock decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_stock"`
	IsActive     *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewIngredient struct {
	Name         string          `json:"name" binding:"required"`
	Unit         string          `json:"unit" binding:"required"`
	MinimumStock decimal.Decimal `json:"minimum_stock"`
	IdealStock   decimal.Decimal `json:"ideal_stock"`
}

// GetIngredient reads through the redis cache (falls back to DB, then caches).
func GetIngredient(ctx context.Context, id int) (*Ingredient, error) {

	result, err := utils.RetrieveRedis[Ingredient](id)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result, err = utils.FetchModel[Ingredient](ctx, id)
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedis[Ingredient](result, id); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func CreateIngredient(ctx context.Context, input *NewIngredient) (*Ingredient, error) {

	if count, err := utils.ResourceCountWhere[Ingredient](ctx, "name = ?", input.Name); err != nil {
		return nil, err
	} else if count > 0 {
		return nil, errors.New("duplicate ingredient name")
	}

	ingredient := Ingredient{
		Name:         input.Name,
		Unit:         input.Unit,
		MinimumStock: input.MinimumStock,
		IdealStock:   input.IdealStock,
		CurrentStock: decimal.Zero,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Create(&ingredient).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := CreateActivity(tx, ActivityActionCreate, ingredient.ID, ReferenceTypeIngredient,
		nil, &ingredient, "Ingredient "+ingredient.Name+" created."); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &ingredient, nil
}

func UpdateIngredient(ctx context.Context, id int, input *NewIngredient) (*Ingredient, error) {

	ingredient, err := utils.FetchModel[Ingredient](ctx, id)
	if err != nil {
		return nil, err
	}
	before := *ingredient

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(ingredient).Updates(map[string]interface{}{
		"Name":         input.Name,
		"Unit":         input.Unit,
		"MinimumStock": input.MinimumStock,
		"IdealStock":   input.IdealStock,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := CreateActivity(tx, ActivityActionUpdate, ingredient.ID, ReferenceTypeIngredient,
		&before, ingredient, "Ingredient "+ingredient.Name+" updated."); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[Ingredient](id); err != nil {
		return nil, err
	}
	return ingredient, nil
}

func ListIngredients(ctx context.Context) ([]*Ingredient, error) {
	return utils.FetchAllModels[Ingredient](ctx)
}

// ListLowStockIngredients returns active ingredients whose cached stock has
// fallen below their minimum threshold.
func ListLowStockIngredients(ctx context.Context) ([]*Ingredient, error) {

	db := config.GetDB()
	var results []*Ingredient
	err := db.WithContext(ctx).
		Where("is_active = ? AND current_stock < minimum_stock", true).
		Order("name ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
