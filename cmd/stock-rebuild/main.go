// stock-rebuild recomputes cached ingredient stock from batch remaining
// quantities. Run it after manual batch edits or when an audit shows drift.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/stock-rebuild [--ingredient-id N]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/bakery_backend/config"
	"github.com/mmdatafocus/bakery_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	ingredientID := flag.Int("ingredient-id", 0, "Optional: rebuild a single ingredient")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	if *ingredientID > 0 {
		if err := workflow.RebuildIngredientStock(ctx, logger, *ingredientID); err != nil {
			fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rebuilt stock for ingredient %d\n", *ingredientID)
		return
	}

	count, err := workflow.RebuildAllIngredientStocks(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Rebuilt stock for %d ingredients\n", count)
}
