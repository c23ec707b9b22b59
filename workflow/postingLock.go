package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

var postingLockTimeoutSeconds = 30

// AcquireProductionPostingLock serializes production posting per ingredient
// across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// transaction that performs the posting, and released on that transaction
// before it commits or rolls back. ingredientIds must be sorted ascending so
// competing requests acquire in the same order.
// On failure any locks already taken are released before returning: advisory
// locks survive rollback, so a partial set left on the pooled connection would
// stall every later production touching those ingredients.
func AcquireProductionPostingLock(tx *gorm.DB, ingredientIds []int) error {
	acquired := make([]int, 0, len(ingredientIds))
	for _, id := range ingredientIds {
		lockName := fmt.Sprintf("production:ingredient:%d", id)
		var ok int
		err := tx.Raw("SELECT GET_LOCK(?, ?)", lockName, postingLockTimeoutSeconds).Scan(&ok).Error
		if err == nil && ok != 1 {
			err = fmt.Errorf("could not acquire posting lock for ingredient_id=%d", id)
		}
		if err != nil {
			ReleaseProductionPostingLock(tx, acquired)
			return err
		}
		acquired = append(acquired, id)
	}
	return nil
}

func ReleaseProductionPostingLock(tx *gorm.DB, ingredientIds []int) {
	for i := len(ingredientIds) - 1; i >= 0; i-- {
		lockName := fmt.Sprintf("production:ingredient:%d", ingredientIds[i])
		var _ok int
		_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
	}
}
