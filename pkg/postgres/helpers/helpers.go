package helpers

import "gorm.io/gorm"

// WrapTxAndCommit runs fn in tx, or in a new transaction when tx is nil. A transaction it
// started is committed on success and rolled back on error.
func WrapTxAndCommit[T any](fn func(*gorm.DB) (T, error), db *gorm.DB, tx *gorm.DB) (T, error) {
	owned := tx == nil
	if owned {
		tx = db.Begin()
		if tx.Error != nil {
			var zero T
			return zero, tx.Error
		}
	}

	res, err := fn(tx)
	if !owned {
		return res, err
	}
	if err != nil {
		tx.Rollback()
		return res, err
	}
	if err := tx.Commit().Error; err != nil {
		return res, err
	}
	return res, nil
}
