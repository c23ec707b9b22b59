package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/bakery_backend/config"
	"github.com/mmdatafocus/bakery_backend/models"
	"github.com/mmdatafocus/bakery_backend/utils"
	"github.com/mmdatafocus/bakery_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func TestProduction_DeductsUsageAndWastageFIFO(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx, logger := setupIntegrationEnv(t)

	flour, flourBatches := seedIngredient(t, ctx, "Flour", []seedBatch{
		{qty: 3, received: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{qty: 20, received: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
	})
	recipe := seedRecipe(t, ctx, "Baguette", flour.ID)

	production, err := workflow.ProcessProduction(ctx, logger, &models.NewProduction{
		RecipeId: recipe.ID,
		Qty:      decimal.NewFromInt(10),
		Ingredients: []models.NewProductionIngredient{
			{Id: flour.ID, Wasted: decimal.NewFromInt(4)},
		},
	})
	if err != nil {
		t.Fatalf("ProcessProduction: %v", err)
	}
	if !strings.HasPrefix(production.BatchNumber, "PRD-") {
		t.Fatalf("unexpected production batch number %q", production.BatchNumber)
	}

	// Usage (1) drains the oldest batch first; wastage (4) continues from where
	// usage stopped: 2 left in the old batch, then 2 from the newer one.
	db := config.GetDB()
	var oldBatch, newBatch models.IngredientBatch
	if err := db.First(&oldBatch, flourBatches[0].ID).Error; err != nil {
		t.Fatalf("reload old batch: %v", err)
	}
	if err := db.First(&newBatch, flourBatches[1].ID).Error; err != nil {
		t.Fatalf("reload new batch: %v", err)
	}
	if !oldBatch.RemainingQty.IsZero() {
		t.Fatalf("old batch should be exhausted, got %s", oldBatch.RemainingQty)
	}
	if oldBatch.RemainingQty.Add(newBatch.RemainingQty).Cmp(decimal.NewFromInt(18)) != 0 {
		t.Fatalf("expected 18 remaining across batches, got %s",
			oldBatch.RemainingQty.Add(newBatch.RemainingQty))
	}

	var reloaded models.Ingredient
	if err := db.First(&reloaded, flour.ID).Error; err != nil {
		t.Fatalf("reload ingredient: %v", err)
	}
	if reloaded.CurrentStock.Cmp(decimal.NewFromInt(18)) != 0 {
		t.Fatalf("cached stock should match batch sum 18, got %s", reloaded.CurrentStock)
	}

	usages, batchUsages, err := models.ListUsageRecordsForProduction(ctx, production.ID)
	if err != nil {
		t.Fatalf("ListUsageRecordsForProduction: %v", err)
	}
	if len(usages) != 2 {
		t.Fatalf("expected 2 usage records (usage + wastage), got %d", len(usages))
	}
	var usageRec, wastageRec *models.UsageRecord
	for _, u := range usages {
		switch u.Reason {
		case models.UsageReasonProduction:
			usageRec = u
		case models.UsageReasonProductionWastage:
			wastageRec = u
		}
	}
	if usageRec == nil || !usageRec.Qty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected a 1-unit production usage record, got %+v", usageRec)
	}
	if wastageRec == nil || !wastageRec.Qty.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected a 4-unit wastage record, got %+v", wastageRec)
	}
	if len(batchUsages[usageRec.ID]) != 1 ||
		batchUsages[usageRec.ID][0].BatchId != flourBatches[0].ID {
		t.Fatalf("usage should draw from the oldest batch only: %+v", batchUsages[usageRec.ID])
	}
	if len(batchUsages[wastageRec.ID]) != 2 {
		t.Fatalf("wastage should span both batches: %+v", batchUsages[wastageRec.ID])
	}

	activities, _, err := models.ListActivities(ctx, models.ActivityFilter{
		ReferenceType: models.ReferenceTypeProduction,
		ReferenceId:   production.ID,
	})
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(activities) != 1 {
		t.Fatalf("expected a production audit row, got %d", len(activities))
	}
}

func TestProduction_InsufficientStockLeavesNothingBehind(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx, logger := setupIntegrationEnv(t)

	flour, _ := seedIngredient(t, ctx, "Flour", []seedBatch{
		{qty: 2, received: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	butter, _ := seedIngredient(t, ctx, "Butter", []seedBatch{
		{qty: 1, received: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	recipe := seedRecipe(t, ctx, "Croissant", flour.ID)

	_, err := workflow.ProcessProduction(ctx, logger, &models.NewProduction{
		RecipeId: recipe.ID,
		Qty:      decimal.NewFromInt(1),
		Ingredients: []models.NewProductionIngredient{
			{Id: flour.ID, Wasted: decimal.NewFromInt(5)},
			{Id: butter.ID, Wasted: decimal.NewFromInt(3)},
		},
	})
	var insufficient *workflow.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(insufficient.Shortages) != 2 {
		t.Fatalf("expected both ingredients in the shortage report, got %+v",
			insufficient.Shortages)
	}

	// Nothing may have been written or deducted.
	db := config.GetDB()
	var reloaded models.Ingredient
	if err := db.First(&reloaded, flour.ID).Error; err != nil {
		t.Fatalf("reload ingredient: %v", err)
	}
	if reloaded.CurrentStock.Cmp(decimal.NewFromInt(2)) != 0 {
		t.Fatalf("stock must be untouched after rejection, got %s", reloaded.CurrentStock)
	}
	var productionCount int64
	if err := db.Model(&models.ProductionRecord{}).Count(&productionCount).Error; err != nil {
		t.Fatalf("count productions: %v", err)
	}
	if productionCount != 0 {
		t.Fatalf("no production record may exist after rejection, got %d", productionCount)
	}
}

func TestProduction_ZeroWastageWritesNoWastageRecord(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx, logger := setupIntegrationEnv(t)

	flour, _ := seedIngredient(t, ctx, "Flour", []seedBatch{
		{qty: 10, received: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	recipe := seedRecipe(t, ctx, "Baguette", flour.ID)

	production, err := workflow.ProcessProduction(ctx, logger, &models.NewProduction{
		RecipeId: recipe.ID,
		Qty:      decimal.NewFromInt(1),
		Ingredients: []models.NewProductionIngredient{
			{Id: flour.ID, Wasted: decimal.Zero},
		},
	})
	if err != nil {
		t.Fatalf("ProcessProduction: %v", err)
	}

	// Only the usage unit: one usage record, no wastage record, stock down by
	// exactly 1.
	usages, batchUsages, err := models.ListUsageRecordsForProduction(ctx, production.ID)
	if err != nil {
		t.Fatalf("ListUsageRecordsForProduction: %v", err)
	}
	if len(usages) != 1 {
		t.Fatalf("expected exactly one usage record, got %d: %+v", len(usages), usages)
	}
	if usages[0].Reason != models.UsageReasonProduction {
		t.Fatalf("expected reason %q, got %q", models.UsageReasonProduction, usages[0].Reason)
	}
	if !usages[0].Qty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected 1-unit usage, got %s", usages[0].Qty)
	}
	if len(batchUsages[usages[0].ID]) != 1 {
		t.Fatalf("expected one batch allocation, got %+v", batchUsages[usages[0].ID])
	}

	db := config.GetDB()
	var reloaded models.Ingredient
	if err := db.First(&reloaded, flour.ID).Error; err != nil {
		t.Fatalf("reload ingredient: %v", err)
	}
	if reloaded.CurrentStock.Cmp(decimal.NewFromInt(9)) != 0 {
		t.Fatalf("stock should decrease by exactly 1, got %s", reloaded.CurrentStock)
	}
}

func TestProduction_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx, logger := setupIntegrationEnv(t)

	// Stock covers exactly one of the two competing requests (each needs 5:
	// 1 usage + 4 wastage). The loser must re-validate under row locks, get
	// the shortage, and leave nothing behind.
	flour, _ := seedIngredient(t, ctx, "Flour", []seedBatch{
		{qty: 5, received: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	recipe := seedRecipe(t, ctx, "Croissant", flour.ID)

	input := func() *models.NewProduction {
		return &models.NewProduction{
			RecipeId: recipe.ID,
			Qty:      decimal.NewFromInt(1),
			Ingredients: []models.NewProductionIngredient{
				{Id: flour.ID, Wasted: decimal.NewFromInt(4)},
			},
		}
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := workflow.ProcessProduction(ctx, logger, input())
			errs <- err
		}()
	}

	var succeeded, short int
	for i := 0; i < 2; i++ {
		err := <-errs
		var insufficient *workflow.InsufficientStockError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &insufficient):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || short != 1 {
		t.Fatalf("expected exactly one winner and one shortage, got succeeded=%d short=%d",
			succeeded, short)
	}

	db := config.GetDB()
	var reloaded models.Ingredient
	if err := db.First(&reloaded, flour.ID).Error; err != nil {
		t.Fatalf("reload ingredient: %v", err)
	}
	if !reloaded.CurrentStock.IsZero() {
		t.Fatalf("stock must never go negative or be over-drawn, got %s", reloaded.CurrentStock)
	}
	var productionCount int64
	if err := db.Model(&models.ProductionRecord{}).Count(&productionCount).Error; err != nil {
		t.Fatalf("count productions: %v", err)
	}
	if productionCount != 1 {
		t.Fatalf("loser must not leave a production record: got %d", productionCount)
	}
}

func TestPostingLock_ReleasesAcquiredLocksOnFailedAcquisition(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	_, _ = setupIntegrationEnv(t)
	restore := workflow.SetPostingLockTimeoutSeconds(1)
	defer restore()

	db := config.GetDB()

	// A competing session holds lock 2, so acquiring {1, 2} takes lock 1 and
	// then times out on lock 2. Lock 1 must not stay behind on the pooled
	// connection: GET_LOCK survives rollback.
	blocker := db.Begin()
	if blocker.Error != nil {
		t.Fatalf("begin blocker tx: %v", blocker.Error)
	}
	defer blocker.Rollback()
	var got int
	if err := blocker.Raw("SELECT GET_LOCK('production:ingredient:2', 1)").Scan(&got).Error; err != nil || got != 1 {
		t.Fatalf("blocker could not take lock 2: got=%d err=%v", got, err)
	}
	defer blocker.Raw("SELECT RELEASE_LOCK('production:ingredient:2')").Scan(&got)

	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin tx: %v", tx.Error)
	}
	defer tx.Rollback()

	err := workflow.AcquireProductionPostingLock(tx, []int{1, 2})
	if err == nil {
		t.Fatalf("expected acquisition to fail while lock 2 is held elsewhere")
	}

	var free int
	if err := db.Raw("SELECT IS_FREE_LOCK('production:ingredient:1')").Scan(&free).Error; err != nil {
		t.Fatalf("IS_FREE_LOCK: %v", err)
	}
	if free != 1 {
		t.Fatalf("lock 1 must be released after the failed acquisition, IS_FREE_LOCK=%d", free)
	}
}

func TestStockRebuild_RepairsDriftedCache(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx, logger := setupIntegrationEnv(t)

	flour, _ := seedIngredient(t, ctx, "Flour", []seedBatch{
		{qty: 7, received: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	})

	db := config.GetDB()
	// Simulate drift from a manual edit.
	if err := db.Model(&models.Ingredient{}).Where("id = ?", flour.ID).
		UpdateColumn("current_stock", decimal.NewFromInt(999)).Error; err != nil {
		t.Fatalf("inject drift: %v", err)
	}

	if err := workflow.RebuildIngredientStock(ctx, logger, flour.ID); err != nil {
		t.Fatalf("RebuildIngredientStock: %v", err)
	}

	var reloaded models.Ingredient
	if err := db.First(&reloaded, flour.ID).Error; err != nil {
		t.Fatalf("reload ingredient: %v", err)
	}
	if reloaded.CurrentStock.Cmp(decimal.NewFromInt(7)) != 0 {
		t.Fatalf("rebuild should restore stock to batch sum 7, got %s", reloaded.CurrentStock)
	}
}

/* test environment */

func setupIntegrationEnv(t *testing.T) (context.Context, *logrus.Logger) {
	t.Helper()
	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "bakery_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	// Audit rows need an actor in context.
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")

	return ctx, config.GetLogger()
}

type seedBatch struct {
	qty      int64
	received time.Time
}

func seedIngredient(t *testing.T, ctx context.Context, name string, batches []seedBatch) (*models.Ingredient, []*models.IngredientBatch) {
	t.Helper()
	ingredient, err := models.CreateIngredient(ctx, &models.NewIngredient{
		Name: name,
		Unit: "kg",
	})
	if err != nil {
		t.Fatalf("CreateIngredient(%s): %v", name, err)
	}
	created := make([]*models.IngredientBatch, 0, len(batches))
	for _, b := range batches {
		received := b.received
		batch, err := models.CreateIngredientBatch(ctx, &models.NewIngredientBatch{
			IngredientId: ingredient.ID,
			Qty:          decimal.NewFromInt(b.qty),
			ReceivedDate: &received,
		})
		if err != nil {
			t.Fatalf("CreateIngredientBatch(%s): %v", name, err)
		}
		created = append(created, batch)
	}
	return ingredient, created
}

func seedRecipe(t *testing.T, ctx context.Context, name string, ingredientIds ...int) *models.Recipe {
	t.Helper()
	items := make([]models.NewRecipeIngredient, 0, len(ingredientIds))
	for _, id := range ingredientIds {
		items = append(items, models.NewRecipeIngredient{
			IngredientId: id,
			Qty:          decimal.NewFromInt(1),
		})
	}
	recipe, err := models.CreateRecipe(ctx, &models.NewRecipe{
		Name:        name,
		Ingredients: items,
	})
	if err != nil {
		t.Fatalf("CreateRecipe(%s): %v", name, err)
	}
	return recipe
}

/* docker helpers */

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("bakery-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("bakery-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=bakery_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
