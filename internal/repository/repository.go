package repository

import "gorm.io/gorm"

// conn runs on tx when the caller is inside a transaction.
func conn(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}
