package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/database"
)

// DBStore 把卡片设计保存在 card_designs 表的单行中。
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// Get 返回已保存的设计；从未保存时返回 ErrNotFound。
func (s *DBStore) Get(ctx context.Context) (cardlayout.CardLayout, error) {
	var row database.CardDesign
	err := s.db.WithContext(ctx).
		Where("key = ?", database.CardDesignKey).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cardlayout.CardLayout{}, ErrNotFound
		}
		return cardlayout.CardLayout{}, fmt.Errorf("query card design: %w", err)
	}
	return cardlayout.Decode(row.Content)
}

// Put 整体覆盖已保存的设计（后写者胜）。
func (s *DBStore) Put(ctx context.Context, layout cardlayout.CardLayout) error {
	data, err := cardlayout.Encode(layout)
	if err != nil {
		return err
	}
	row := database.CardDesign{
		Key:     database.CardDesignKey,
		Content: datatypes.JSON(data),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert card design: %w", err)
	}
	return nil
}

// Reset 删除已保存的设计，下次读取回到默认值。
func (s *DBStore) Reset(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Unscoped().
		Where("key = ?", database.CardDesignKey).
		Delete(&database.CardDesign{}).Error
	if err != nil {
		return fmt.Errorf("delete card design: %w", err)
	}
	return nil
}
