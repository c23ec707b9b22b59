package workflow

import (
	"context"

	"github.com/mmdatafocus/bakery_backend/config"
	"github.com/mmdatafocus/bakery_backend/models"
	"github.com/mmdatafocus/bakery_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RebuildIngredientStock recomputes one ingredient's cached current_stock from
// the sum of its batches' remaining quantities. The cache can only drift if a
// past bug or manual DB edit broke the deduct-both-together invariant, so this
// is an operator repair tool, not part of the normal posting path.
func RebuildIngredientStock(ctx context.Context, logger *logrus.Logger, ingredientId int) error {

	if err := utils.ValidateResourceId[models.Ingredient](ctx, ingredientId); err != nil {
		return err
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Model(&models.Ingredient{}).Where("id = ?", ingredientId).
		UpdateColumn("current_stock", gorm.Expr(
			"(SELECT COALESCE(SUM(remaining_qty), 0) FROM ingredient_batches WHERE ingredient_id = ?)",
			ingredientId)).Error
	if err != nil {
		config.LogError(logger, "stockRebuild.go", "RebuildIngredientStock", "UpdateColumn", ingredientId, err)
		return err
	}
	return utils.RemoveRedisItem[models.Ingredient](ingredientId)
}

// RebuildAllIngredientStocks repairs every ingredient's cached stock.
func RebuildAllIngredientStocks(ctx context.Context, logger *logrus.Logger) (int, error) {

	ingredients, err := utils.FetchAllModels[models.Ingredient](ctx)
	if err != nil {
		return 0, err
	}
	for _, ingredient := range ingredients {
		if err := RebuildIngredientStock(ctx, logger, ingredient.ID); err != nil {
			return 0, err
		}
	}
	return len(ingredients), nil
}
