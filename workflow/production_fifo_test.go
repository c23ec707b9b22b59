package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/bakery_backend/models"
	"github.com/mmdatafocus/bakery_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// NOTE: These tests are intentionally DB-free. They validate the allocation
// semantics the posting path relies on:
// - batches are consumed oldest-first, id asc on ties
// - the same in-memory batch list carries state from the usage pass into the
//   wastage pass
// - sufficiency reports every shortage, not just the first
//
// Full DB integration tests are gated behind INTEGRATION_TESTS (see
// production_integration_test.go).

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func batch(id int, received time.Time, remaining int64) *models.IngredientBatch {
	return &models.IngredientBatch{
		ID:           id,
		ReceivedDate: received,
		Qty:          decimal.NewFromInt(remaining),
		RemainingQty: decimal.NewFromInt(remaining),
	}
}

func TestAllocateFIFO_ConsumesOldestFirst(t *testing.T) {
	batches := []*models.IngredientBatch{
		batch(1, day(1), 5),
		batch(2, day(5), 10),
	}

	allocations, missing := allocateFIFO(batches, decimal.NewFromInt(7))

	if !missing.IsZero() {
		t.Fatalf("expected full allocation, got missing=%s", missing)
	}
	if len(allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocations))
	}
	if allocations[0].BatchId != 1 || !allocations[0].Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("first allocation should drain batch 1 fully, got batch=%d qty=%s",
			allocations[0].BatchId, allocations[0].Qty)
	}
	if allocations[1].BatchId != 2 || !allocations[1].Qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("second allocation should take 2 from batch 2, got batch=%d qty=%s",
			allocations[1].BatchId, allocations[1].Qty)
	}
	if !batches[0].RemainingQty.IsZero() {
		t.Fatalf("batch 1 should be exhausted, got %s", batches[0].RemainingQty)
	}
	if !batches[1].RemainingQty.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("batch 2 should hold 8, got %s", batches[1].RemainingQty)
	}
}

func TestAllocateFIFO_ConservesQuantity(t *testing.T) {
	batches := []*models.IngredientBatch{
		batch(1, day(1), 3),
		batch(2, day(2), 4),
		batch(3, day(3), 5),
	}
	before := models.TotalRemainingQty(batches)

	need := decimal.NewFromFloat(6.5)
	allocations, missing := allocateFIFO(batches, need)

	allocated := decimal.Zero
	for _, a := range allocations {
		allocated = allocated.Add(a.Qty)
	}
	if !allocated.Add(missing).Equal(need) {
		t.Fatalf("allocated+missing should equal requested: %s + %s != %s",
			allocated, missing, need)
	}
	if !models.TotalRemainingQty(batches).Add(allocated).Equal(before) {
		t.Fatalf("batch decrements should mirror allocations exactly")
	}
}

func TestAllocateFIFO_ReportsUncoveredRemainder(t *testing.T) {
	batches := []*models.IngredientBatch{
		batch(1, day(1), 2),
	}

	allocations, missing := allocateFIFO(batches, decimal.NewFromInt(5))

	if !missing.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected missing=3, got %s", missing)
	}
	if len(allocations) != 1 || !allocations[0].Qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("should still drain what exists before reporting the remainder")
	}
}

func TestAllocateFIFO_SkipsExhaustedBatches(t *testing.T) {
	batches := []*models.IngredientBatch{
		batch(1, day(1), 0),
		batch(2, day(2), 4),
	}

	allocations, missing := allocateFIFO(batches, decimal.NewFromInt(3))

	if !missing.IsZero() {
		t.Fatalf("expected full allocation, got missing=%s", missing)
	}
	if len(allocations) != 1 || allocations[0].BatchId != 2 {
		t.Fatalf("exhausted batch must not appear in allocations: %+v", allocations)
	}
}

func TestAllocateFIFO_SecondWalkContinuesFromFirst(t *testing.T) {
	// Usage then wastage run against the same slice; the wastage walk must
	// start from the state the usage walk left, not from fresh rows.
	batches := []*models.IngredientBatch{
		batch(1, day(1), 3),
		batch(2, day(5), 20),
	}

	usageAllocs, missing := allocateFIFO(batches, decimal.NewFromInt(1))
	if !missing.IsZero() {
		t.Fatalf("usage walk should allocate fully")
	}
	if usageAllocs[0].BatchId != 1 {
		t.Fatalf("usage should draw from the oldest batch")
	}

	wastageAllocs, missing := allocateFIFO(batches, decimal.NewFromInt(4))
	if !missing.IsZero() {
		t.Fatalf("wastage walk should allocate fully")
	}
	if len(wastageAllocs) != 2 {
		t.Fatalf("wastage should span both batches, got %d allocations", len(wastageAllocs))
	}
	if !wastageAllocs[0].Qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("wastage should take the 2 left in batch 1, got %s", wastageAllocs[0].Qty)
	}
	if !wastageAllocs[1].Qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("wastage should take 2 from batch 2, got %s", wastageAllocs[1].Qty)
	}
}

func TestSortBatchesFIFO_TieBreaksOnId(t *testing.T) {
	batches := []*models.IngredientBatch{
		batch(9, day(3), 1),
		batch(4, day(3), 1),
		batch(7, day(1), 1),
	}

	models.SortBatchesFIFO(batches)

	gotIds := []int{batches[0].ID, batches[1].ID, batches[2].ID}
	wantIds := []int{7, 4, 9}
	for i := range wantIds {
		if gotIds[i] != wantIds[i] {
			t.Fatalf("expected order %v, got %v", wantIds, gotIds)
		}
	}
}

func requirement(id int, name string, wastage int64, batches ...*models.IngredientBatch) *IngredientRequirement {
	return &IngredientRequirement{
		Ingredient: &models.Ingredient{ID: id, Name: name, Unit: "kg"},
		Usage:      decimal.NewFromInt(1),
		Wastage:    decimal.NewFromInt(wastage),
		Batches:    batches,
	}
}

func TestCheckSufficiency_ReportsEveryShortage(t *testing.T) {
	requirements := []*IngredientRequirement{
		requirement(1, "Flour", 5, batch(1, day(1), 2)),          // needs 6, has 2
		requirement(2, "Sugar", 0, batch(2, day(1), 10)),         // needs 1, has 10
		requirement(3, "Butter", 2, batch(3, day(1), 1)),         // needs 3, has 1
	}

	shortages := CheckSufficiency(requirements)

	if len(shortages) != 2 {
		t.Fatalf("expected 2 shortages, got %d: %+v", len(shortages), shortages)
	}
	if shortages[0].IngredientId != 1 || !shortages[0].Needed.Equal(decimal.NewFromInt(6)) ||
		!shortages[0].Available.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected first shortage: %+v", shortages[0])
	}
	if shortages[1].IngredientId != 3 {
		t.Fatalf("expected Butter as second shortage, got %+v", shortages[1])
	}
}

func TestCheckSufficiency_IsRepeatable(t *testing.T) {
	requirements := []*IngredientRequirement{
		requirement(1, "Flour", 5, batch(1, day(1), 2)),
	}

	first := CheckSufficiency(requirements)
	second := CheckSufficiency(requirements)

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("sufficiency check must not mutate its inputs: first=%d second=%d",
			len(first), len(second))
	}
	if !first[0].Available.Equal(second[0].Available) {
		t.Fatalf("available changed between identical checks")
	}
}

func TestCheckSufficiency_ExactStockPasses(t *testing.T) {
	requirements := []*IngredientRequirement{
		requirement(1, "Flour", 4, batch(1, day(1), 5)), // needs exactly 5
	}

	if shortages := CheckSufficiency(requirements); len(shortages) != 0 {
		t.Fatalf("exact match should not be a shortage: %+v", shortages)
	}
}

func TestMergeWastage_SumsDuplicatesPerIngredient(t *testing.T) {
	merged := mergeWastage([]models.NewProductionIngredient{
		{Id: 1, Wasted: decimal.NewFromInt(2)},
		{Id: 2, Wasted: decimal.NewFromInt(3)},
		{Id: 1, Wasted: decimal.NewFromInt(4)},
	})

	if len(merged) != 2 {
		t.Fatalf("expected 2 distinct ingredients, got %d", len(merged))
	}
	if !merged[1].Equal(decimal.NewFromInt(6)) {
		t.Fatalf("duplicate entries should sum: want 6, got %s", merged[1])
	}
	if !merged[2].Equal(decimal.NewFromInt(3)) {
		t.Fatalf("want 3 for ingredient 2, got %s", merged[2])
	}
}

func TestMergeWastage_ZeroAndNegativeContributeNothing(t *testing.T) {
	merged := mergeWastage([]models.NewProductionIngredient{
		{Id: 1, Wasted: decimal.Zero},
		{Id: 2, Wasted: decimal.NewFromInt(-5)},
		{Id: 3, Wasted: decimal.NewFromInt(2)},
		{Id: 3, Wasted: decimal.NewFromInt(-1)},
	})

	// The ingredients still appear (each owes its usage unit), but with zero
	// wastage, so no wastage record will be written for them.
	if len(merged) != 3 {
		t.Fatalf("expected 3 distinct ingredients, got %d", len(merged))
	}
	if !merged[1].IsZero() {
		t.Fatalf("zero wastage must stay zero, got %s", merged[1])
	}
	if !merged[2].IsZero() {
		t.Fatalf("negative wastage must count as zero, got %s", merged[2])
	}
	if !merged[3].Equal(decimal.NewFromInt(2)) {
		t.Fatalf("negative entries must not reduce positive ones: want 2, got %s", merged[3])
	}
}

func TestAllocateOrFail_ReportsShrunkenBatchesAsConsistencyError(t *testing.T) {
	// Validation saw enough stock, then the batches shrank underneath the
	// walk: the allocation must fail loudly instead of under-deducting.
	batches := []*models.IngredientBatch{
		batch(1, day(1), 2),
	}

	_, err := allocateOrFail(7, batches, decimal.NewFromInt(5), models.UsageReasonProduction)
	if err == nil {
		t.Fatalf("expected a consistency error")
	}
	want := "insufficient FIFO layers for ingredient_id=7 reason=Production qty_missing=3"
	if err.Error() != want {
		t.Fatalf("unexpected error message:\nwant %q\ngot  %q", want, err.Error())
	}
}

func TestAllocateOrFail_FullCoverageSucceeds(t *testing.T) {
	batches := []*models.IngredientBatch{
		batch(1, day(1), 5),
	}

	allocations, err := allocateOrFail(7, batches, decimal.NewFromInt(5), models.UsageReasonProduction)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(allocations) != 1 || !allocations[0].Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected allocations: %+v", allocations)
	}
}

func TestProcessProduction_RequiresActorIdentity(t *testing.T) {
	logger := logrus.New()
	input := &models.NewProduction{
		RecipeId: 1,
		Qty:      decimal.NewFromInt(1),
		Ingredients: []models.NewProductionIngredient{
			{Id: 1},
		},
	}

	_, err := ProcessProduction(context.Background(), logger, input)
	if err == nil || err.Error() != "user id is required" {
		t.Fatalf("expected user id error, got %v", err)
	}

	ctx := utils.SetUserIdInContext(context.Background(), 1)
	_, err = ProcessProduction(ctx, logger, input)
	if err == nil || err.Error() != "user name is required" {
		t.Fatalf("expected user name error, got %v", err)
	}
}

func TestInsufficientStockError_NamesAllIngredients(t *testing.T) {
	err := &InsufficientStockError{Shortages: []Shortage{
		{IngredientId: 1, Name: "Flour"},
		{IngredientId: 3, Name: "Butter"},
	}}

	msg := err.Error()
	if msg != "insufficient stock for Flour, Butter" {
		t.Fatalf("unexpected message: %q", msg)
	}
}
