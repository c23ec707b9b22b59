package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/bakery_backend/config"
	"github.com/mmdatafocus/bakery_backend/utils"
	"github.com/shopspring/decimal"
)

type Recipe struct {
	ID          int                `gorm:"primary_key" json:"id"`
	Name        string             `gorm:"size:100;not null" json:"name" binding:"required"`
	Description string             `gorm:"type:text" json:"description"`
	Ingredients []RecipeIngredient `gorm:"foreignKey:RecipeId" json:"ingredients"`
	IsActive    *bool              `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type RecipeIngredient struct {
	ID           int             `gorm:"primary_key" json:"id"`
	RecipeId     int             `gorm:"index;not null" json:"recipe_id"`
	IngredientId int             `gorm:"index;not null" json:"ingredient_id"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
}

type NewRecipe struct {
	Name        string                `json:"name" binding:"required"`
	Description string                `json:"description"`
	Ingredients []NewRecipeIngredient `json:"ingredients" binding:"dive"`
}

type NewRecipeIngredient struct {
	IngredientId int             `json:"ingredient_id" binding:"required"`
	Qty          decimal.Decimal `json:"qty"`
}

// GetRecipe reads through the redis cache.
func GetRecipe(ctx context.Context, id int) (*Recipe, error) {

	result, err := utils.RetrieveRedis[Recipe](id)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result, err = utils.FetchModel[Recipe](ctx, id, "Ingredients")
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedis[Recipe](result, id); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func CreateRecipe(ctx context.Context, input *NewRecipe) (*Recipe, error) {

	if count, err := utils.ResourceCountWhere[Recipe](ctx, "name = ?", input.Name); err != nil {
		return nil, err
	} else if count > 0 {
		return nil, errors.New("duplicate recipe name")
	}
	for _, ri := range input.Ingredients {
		if err := utils.ValidateResourceId[Ingredient](ctx, ri.IngredientId); err != nil {
			return nil, errors.New("ingredient not found")
		}
	}

	recipe := Recipe{
		Name:        input.Name,
		Description: input.Description,
	}
	for _, ri := range input.Ingredients {
		recipe.Ingredients = append(recipe.Ingredients, RecipeIngredient{
			IngredientId: ri.IngredientId,
			Qty:          ri.Qty,
		})
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Create(&recipe).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := CreateActivity(tx, ActivityActionCreate, recipe.ID, ReferenceTypeRecipe,
		nil, &recipe, "Recipe "+recipe.Name+" created."); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &recipe, nil
}

func ListRecipes(ctx context.Context) ([]*Recipe, error) {
	return utils.FetchAllModels[Recipe](ctx, "Ingredients")
}
