package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/bakery_backend/config"
	"github.com/mmdatafocus/bakery_backend/models"
	"github.com/mmdatafocus/bakery_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Shortage is one entry of the complete insufficiency report returned when a
// production request asks for more than the batches can cover.
type Shortage struct {
	IngredientId int             `json:"ingredientId"`
	Name         string          `json:"name"`
	Needed       decimal.Decimal `json:"needed"`
	Available    decimal.Decimal `json:"available"`
	Unit         string          `json:"unit"`
}

// InsufficientStockError carries every shortage found, not just the first, so
// callers see the whole picture in one round trip. Nothing has been mutated
// when it is returned.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	names := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		names = append(names, s.Name)
	}
	return fmt.Sprintf("insufficient stock for %s", strings.Join(names, ", "))
}

// IngredientRequirement is the gathered per-ingredient snapshot a production
// request is validated and deducted against. Usage and wastage draw from the
// same physical batches, so sufficiency is checked on their sum.
type IngredientRequirement struct {
	Ingredient *models.Ingredient
	Usage      decimal.Decimal
	Wastage    decimal.Decimal
	Batches    []*models.IngredientBatch
}

func (r *IngredientRequirement) TotalNeeded() decimal.Decimal {
	return r.Usage.Add(r.Wastage)
}

// CheckSufficiency scans every requirement and reports all shortages.
// Pure read; calling it twice over the same snapshots gives the same result.
func CheckSufficiency(requirements []*IngredientRequirement) []Shortage {
	var shortages []Shortage
	for _, req := range requirements {
		available := models.TotalRemainingQty(req.Batches)
		needed := req.TotalNeeded()
		if needed.GreaterThan(available) {
			shortages = append(shortages, Shortage{
				IngredientId: req.Ingredient.ID,
				Name:         req.Ingredient.Name,
				Needed:       needed,
				Available:    available,
				Unit:         req.Ingredient.Unit,
			})
		}
	}
	return shortages
}

// BatchAllocation records how much one FIFO walk took from one batch.
type BatchAllocation struct {
	BatchId int
	Qty     decimal.Decimal
}

// allocateFIFO walks batches oldest-first, takes min(remaining, still needed)
// from each and decrements the in-memory batch, so a second walk over the same
// slice continues from the state this one left. Returns the allocations and
// the quantity it could not cover (zero when stock sufficed).
func allocateFIFO(batches []*models.IngredientBatch, qty decimal.Decimal) ([]BatchAllocation, decimal.Decimal) {
	allocations := make([]BatchAllocation, 0, 2)
	remaining := qty
	for _, batch := range batches {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		if batch.RemainingQty.LessThanOrEqual(decimal.Zero) {
			continue
		}
		take := batch.RemainingQty
		if take.GreaterThan(remaining) {
			take = remaining
		}
		batch.RemainingQty = batch.RemainingQty.Sub(take)
		allocations = append(allocations, BatchAllocation{BatchId: batch.ID, Qty: take})
		remaining = remaining.Sub(take)
	}
	return allocations, remaining
}

// allocateOrFail runs the FIFO walk and converts an uncovered remainder into
// the consistency error that aborts the production. Validation has already
// passed when this runs, so a remainder means the batch state changed
// underneath us and nothing may be committed.
func allocateOrFail(ingredientId int, batches []*models.IngredientBatch, qty decimal.Decimal, reason models.UsageReason) ([]BatchAllocation, error) {
	allocations, missing := allocateFIFO(batches, qty)
	if missing.GreaterThan(decimal.Zero) {
		return nil, fmt.Errorf("insufficient FIFO layers for ingredient_id=%d reason=%s qty_missing=%s",
			ingredientId, reason, missing.String())
	}
	return allocations, nil
}

// Each listed ingredient draws a fixed single unit of productive usage per
// production request; wastage comes from the request body.
// TODO: confirm with product whether usage should scale with recipe quantities
// and the produced amount instead of the fixed unit the current clients rely on.
var productionUsageQty = decimal.NewFromInt(1)

// mergeWastage collapses the request's ingredient entries into one wastage
// total per ingredient. Zero and negative amounts contribute nothing, but the
// ingredient still appears (with zero wastage) so it incurs its usage unit.
func mergeWastage(items []models.NewProductionIngredient) map[int]decimal.Decimal {
	wastageById := make(map[int]decimal.Decimal, len(items))
	for _, item := range items {
		current, seen := wastageById[item.Id]
		if !seen {
			current = decimal.Zero
		}
		if item.Wasted.GreaterThan(decimal.Zero) {
			current = current.Add(item.Wasted)
		}
		wastageById[item.Id] = current
	}
	return wastageById
}

// gatherRequirements resolves the request's ingredient list into snapshots,
// merging duplicate entries (wastage adds up, usage stays one unit per
// distinct ingredient) and sorting by ingredient id so batch rows are always
// locked in the same order.
func gatherRequirements(tx *gorm.DB, input *models.NewProduction, forUpdate bool) ([]*IngredientRequirement, error) {

	wastageById := mergeWastage(input.Ingredients)

	ingredientIds := make([]int, 0, len(wastageById))
	for id := range wastageById {
		ingredientIds = append(ingredientIds, id)
	}
	sort.Ints(ingredientIds)

	requirements := make([]*IngredientRequirement, 0, len(ingredientIds))
	for _, id := range ingredientIds {
		var ingredient models.Ingredient
		if err := tx.First(&ingredient, id).Error; err != nil {
			return nil, fmt.Errorf("ingredient_id=%d: %w", id, utils.ErrorRecordNotFound)
		}
		batches, err := models.FetchBatchesFIFO(tx, id, forUpdate)
		if err != nil {
			return nil, err
		}
		requirements = append(requirements, &IngredientRequirement{
			Ingredient: &ingredient,
			Usage:      productionUsageQty,
			Wastage:    wastageById[id],
			Batches:    batches,
		})
	}
	return requirements, nil
}

// applyDeduction writes one usage record, runs the FIFO walk for it, persists
// the per-batch allocations and decrements, and appends the audit row — all on
// the caller's transaction. A walk that cannot fully allocate after validation
// passed is a consistency violation and aborts the whole production.
func applyDeduction(tx *gorm.DB, logger *logrus.Logger, production *models.ProductionRecord, req *IngredientRequirement, qty decimal.Decimal, reason models.UsageReason) error {

	usage := models.UsageRecord{
		ProductionId: production.ID,
		IngredientId: req.Ingredient.ID,
		Qty:          qty,
		Reason:       reason,
	}
	if err := tx.Create(&usage).Error; err != nil {
		config.LogError(logger, "productionWorkflow.go", "applyDeduction", "Create UsageRecord", usage, err)
		return err
	}

	allocations, err := allocateOrFail(req.Ingredient.ID, req.Batches, qty, reason)
	if err != nil {
		config.LogConsistencyError(logger, "productionWorkflow.go", "applyDeduction", req.Batches, err)
		return err
	}

	for _, alloc := range allocations {
		batchUsage := models.BatchUsage{
			UsageRecordId: usage.ID,
			BatchId:       alloc.BatchId,
			QtyUsed:       alloc.Qty,
		}
		if err := tx.Create(&batchUsage).Error; err != nil {
			config.LogError(logger, "productionWorkflow.go", "applyDeduction", "Create BatchUsage", batchUsage, err)
			return err
		}
		err := tx.Model(&models.IngredientBatch{}).Where("id = ?", alloc.BatchId).
			UpdateColumn("remaining_qty", gorm.Expr("remaining_qty - ?", alloc.Qty)).Error
		if err != nil {
			config.LogError(logger, "productionWorkflow.go", "applyDeduction", "Decrement batch", alloc, err)
			return err
		}
	}

	err = tx.Model(&models.Ingredient{}).Where("id = ?", req.Ingredient.ID).
		UpdateColumn("current_stock", gorm.Expr("current_stock - ?", qty)).Error
	if err != nil {
		config.LogError(logger, "productionWorkflow.go", "applyDeduction", "Decrement ingredient stock", req.Ingredient.ID, err)
		return err
	}

	description := fmt.Sprintf("%s %s of %s deducted for production %s (%s).",
		qty.String(), req.Ingredient.Unit, req.Ingredient.Name, production.BatchNumber, reason)
	return models.CreateActivity(tx, models.ActivityActionUsage, usage.ID, models.ReferenceTypeUsageRecord,
		nil, &usage, description)
}

// ProcessProduction records one production event: validates stock sufficiency
// across the ingredients' batches, deducts usage and wastage FIFO, keeps the
// cached stock aggregates in step and writes the audit trail — all inside a
// single transaction. On any failure every mutation rolls back.
func ProcessProduction(ctx context.Context, logger *logrus.Logger, input *models.NewProduction) (*models.ProductionRecord, error) {

	if input.Qty.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("quantity must be positive")
	}
	if len(input.Ingredients) == 0 {
		return nil, errors.New("at least one ingredient is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	// Checked here, not just in CreateActivity: a missing name must fail the
	// request up front rather than mid-transaction.
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok {
		return nil, errors.New("user name is required")
	}

	if err := utils.ValidateResourceId[models.Recipe](ctx, input.RecipeId); err != nil {
		return nil, fmt.Errorf("recipe_id=%d: %w", input.RecipeId, utils.ErrorRecordNotFound)
	}

	db := config.GetDB()

	// Best-effort redis lock to keep competing requests from piling up on the
	// DB locks. Reliability must not depend on redis: the advisory locks and
	// the FOR UPDATE reads below serialize posting on their own.
	if lockClient := config.GetRedisLock(); lockClient != nil {
		lock, lockErr := lockClient.Obtain(ctx, "production-posting", 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(200 * time.Millisecond),
		})
		if lockErr == nil {
			defer lock.Release(context.Background())
		}
	}

	// Pre-transaction validation: fail fast with the complete shortage list
	// before any lock is taken.
	preRequirements, err := gatherRequirements(db.WithContext(ctx), input, false)
	if err != nil {
		return nil, err
	}
	if shortages := CheckSufficiency(preRequirements); len(shortages) > 0 {
		return nil, &InsufficientStockError{Shortages: shortages}
	}

	ingredientIds := make([]int, 0, len(preRequirements))
	for _, req := range preRequirements {
		ingredientIds = append(ingredientIds, req.Ingredient.ID)
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	fail := func(failErr error) (*models.ProductionRecord, error) {
		ReleaseProductionPostingLock(tx, ingredientIds)
		tx.Rollback()
		return nil, failErr
	}

	if err := AcquireProductionPostingLock(tx, ingredientIds); err != nil {
		tx.Rollback()
		return nil, err
	}

	// Re-validate against locked batch rows: time passed since the pre-check
	// and another request may have drawn from the same batches.
	requirements, err := gatherRequirements(tx, input, true)
	if err != nil {
		return fail(err)
	}
	if shortages := CheckSufficiency(requirements); len(shortages) > 0 {
		return fail(&InsufficientStockError{Shortages: shortages})
	}

	production := models.ProductionRecord{
		RecipeId:    input.RecipeId,
		Qty:         input.Qty,
		BatchNumber: "PRD-" + strings.ToUpper(uuid.NewString()[:8]),
		Notes:       input.Notes,
		UserId:      userId,
		UserName:    userName,
	}
	if err := tx.Create(&production).Error; err != nil {
		config.LogError(logger, "productionWorkflow.go", "ProcessProduction", "Create ProductionRecord", input, err)
		return fail(err)
	}

	// Usage pass first, then wastage, so each ingredient has a single FIFO
	// timeline: wastage continues from the batch state usage left behind.
	for _, req := range requirements {
		if err := applyDeduction(tx, logger, &production, req, req.Usage, models.UsageReasonProduction); err != nil {
			return fail(err)
		}
	}
	for _, req := range requirements {
		if req.Wastage.GreaterThan(decimal.Zero) {
			if err := applyDeduction(tx, logger, &production, req, req.Wastage, models.UsageReasonProductionWastage); err != nil {
				return fail(err)
			}
		}
	}

	description := fmt.Sprintf("Production %s completed for recipe_id=%d (qty %s).",
		production.BatchNumber, production.RecipeId, production.Qty.String())
	if err := models.CreateActivity(tx, models.ActivityActionProduction, production.ID, models.ReferenceTypeProduction,
		nil, &production, description); err != nil {
		return fail(err)
	}

	ReleaseProductionPostingLock(tx, ingredientIds)
	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "productionWorkflow.go", "ProcessProduction", "Commit", production, err)
		return nil, err
	}

	for _, id := range ingredientIds {
		_ = utils.RemoveRedisItem[models.Ingredient](id)
	}

	return &production, nil
}
