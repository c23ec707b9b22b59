package models

// UsageReason classifies why stock left a batch.
type UsageReason string

const (
	UsageReasonProduction        UsageReason = "Production"
	UsageReasonProductionWastage UsageReason = "Production wastage"
)

// Activity action types (append-only audit log).
const (
	ActivityActionCreate     = "*CREATE*"
	ActivityActionUpdate     = "*UPDATE*"
	ActivityActionActive     = "*ACTIVE*"
	ActivityActionInactive   = "*INACTIVE*"
	ActivityActionRestock    = "*RESTOCK*"
	ActivityActionUsage      = "*USAGE*"
	ActivityActionProduction = "*PRODUCTION*"
)

// Reference types for Activity rows (table names of the referenced entity).
const (
	ReferenceTypeIngredient      = "ingredients"
	ReferenceTypeIngredientBatch = "ingredient_batches"
	ReferenceTypeRecipe          = "recipes"
	ReferenceTypeUsageRecord     = "usage_records"
	ReferenceTypeProduction      = "production_records"
)
