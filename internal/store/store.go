// Package store persists transfer history. Payload data never touches
// the database; only metadata about completed or failed transfers does.
package store

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type Transfer struct {
	ID         uint `gorm:"primaryKey"`
	TransferID string
	Room       string
	Name       string
	Size       int64
	FileType   string
	Direction  string
	Status     string
	Bandwidth  float64
	Duration   int64
	CreatedAt  int64
}

func NewDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, err
	}
	return db, nil
}

type TransferStore struct {
	DB *gorm.DB
}

func NewTransferStore(db *gorm.DB) *TransferStore {
	return &TransferStore{DB: db}
}

func (ts *TransferStore) Create(t *Transfer) error {
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().Unix()
	}
	return ts.DB.Create(t).Error
}

// Recent returns the newest transfers first, at most limit of them.
func (ts *TransferStore) Recent(limit int) ([]Transfer, error) {
	var transfers []Transfer
	err := ts.DB.Order("created_at desc, id desc").Limit(limit).Find(&transfers).Error
	return transfers, err
}
