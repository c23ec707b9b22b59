package models

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/bakery_backend/config"
	"github.com/mmdatafocus/bakery_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IngredientBatch is a received lot of one ingredient. RemainingQty only ever
// decreases (production/wastage deductions) and never goes below zero; an
// exhausted batch stays in the table as a historical record.
type IngredientBatch struct {
	ID           int             `gorm:"primary_key" json:"id"`
	IngredientId int             `gorm:"index;not null" json:"ingredient_id"`
	BatchNumber  string          `gorm:"size:100;unique;not null" json:"batch_number"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	RemainingQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"remaining_qty"`
	ReceivedDate time.Time       `gorm:"index;not null" json:"received_date"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	UnitCost     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewIngredientBatch struct {
	IngredientId int             `json:"ingredient_id" binding:"required"`
	BatchNumber  string          `json:"batch_number"`
	Qty          decimal.Decimal `json:"qty" binding:"required"`
	ReceivedDate *time.Time      `json:"received_date"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
}

// CreateIngredientBatch records a restock: a new batch plus the matching
// increment of the ingredient's cached stock, in one transaction.
func CreateIngredientBatch(ctx context.Context, input *NewIngredientBatch) (*IngredientBatch, error) {

	if input.Qty.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("batch qty must be positive")
	}
	ingredient, err := utils.FetchModel[Ingredient](ctx, input.IngredientId)
	if err != nil {
		return nil, err
	}

	batchNumber := strings.TrimSpace(input.BatchNumber)
	if batchNumber == "" {
		batchNumber = "BAT-" + strings.ToUpper(uuid.NewString()[:8])
	} else {
		if count, err := utils.ResourceCountWhere[IngredientBatch](ctx, "batch_number = ?", batchNumber); err != nil {
			return nil, err
		} else if count > 0 {
			return nil, errors.New("duplicate batch number")
		}
	}

	receivedDate := time.Now().UTC()
	if input.ReceivedDate != nil {
		receivedDate = *input.ReceivedDate
	}

	batch := IngredientBatch{
		IngredientId: input.IngredientId,
		BatchNumber:  batchNumber,
		Qty:          input.Qty,
		RemainingQty: input.Qty,
		ReceivedDate: receivedDate,
		ExpiryDate:   input.ExpiryDate,
		UnitCost:     input.UnitCost,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Create(&batch).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	err = tx.Model(&Ingredient{}).Where("id = ?", input.IngredientId).
		UpdateColumn("current_stock", gorm.Expr("current_stock + ?", input.Qty)).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	description := "Restocked " + input.Qty.String() + " " + ingredient.Unit + " of " + ingredient.Name + " (batch " + batchNumber + ")."
	if err := CreateActivity(tx, ActivityActionRestock, batch.ID, ReferenceTypeIngredientBatch,
		nil, &batch, description); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[Ingredient](input.IngredientId); err != nil {
		return nil, err
	}
	return &batch, nil
}

// FetchBatchesFIFO loads an ingredient's open batches in consumption order.
// Ordering is explicit (received_date asc, id asc) so allocations are
// deterministic even when two batches arrive the same day. With forUpdate set
// the rows are locked for the remainder of the caller's transaction.
func FetchBatchesFIFO(tx *gorm.DB, ingredientId int, forUpdate bool) ([]*IngredientBatch, error) {

	query := tx.Model(&IngredientBatch{}).
		Where("ingredient_id = ? AND remaining_qty > 0", ingredientId).
		Order("received_date ASC, id ASC")
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var batches []*IngredientBatch
	if err := query.Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// SortBatchesFIFO applies the same comparator as FetchBatchesFIFO to an
// in-memory slice.
func SortBatchesFIFO(batches []*IngredientBatch) {
	sort.SliceStable(batches, func(i, j int) bool {
		if batches[i].ReceivedDate.Equal(batches[j].ReceivedDate) {
			return batches[i].ID < batches[j].ID
		}
		return batches[i].ReceivedDate.Before(batches[j].ReceivedDate)
	})
}

// TotalRemainingQty sums the remaining quantities of the given batches.
func TotalRemainingQty(batches []*IngredientBatch) decimal.Decimal {
	total := decimal.Zero
	for _, b := range batches {
		if b.RemainingQty.GreaterThan(decimal.Zero) {
			total = total.Add(b.RemainingQty)
		}
	}
	return total
}

// ListIngredientBatches returns all batches of an ingredient, FIFO order,
// exhausted ones included (history view).
func ListIngredientBatches(ctx context.Context, ingredientId int) ([]*IngredientBatch, error) {

	db := config.GetDB()
	var batches []*IngredientBatch
	err := db.WithContext(ctx).
		Where("ingredient_id = ?", ingredientId).
		Order("received_date ASC, id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}
