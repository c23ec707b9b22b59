package models

import (
	"log"

	"github.com/mmdatafocus/bakery_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&Ingredient{}, &IngredientBatch{},
		&Recipe{}, &RecipeIngredient{},
		&ProductionRecord{}, &UsageRecord{}, &BatchUsage{},
		&Activity{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
