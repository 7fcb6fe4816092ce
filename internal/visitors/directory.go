package visitors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"cardDesigner/internal/badge"
	"cardDesigner/internal/database"
)

// ErrNotFound 表示访客不存在。
var ErrNotFound = errors.New("visitor not found")

// Directory 是访客主数据的只读查询接口。
type Directory interface {
	Find(ctx context.Context, visitorID string) (badge.Visitor, error)
}

// GormDirectory 从 visitors 表读取访客。
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) Find(ctx context.Context, visitorID string) (badge.Visitor, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return badge.Visitor{}, ErrNotFound
	}

	var row database.Visitor
	err := d.db.WithContext(ctx).
		Where("visitor_id = ?", visitorID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return badge.Visitor{}, ErrNotFound
		}
		return badge.Visitor{}, fmt.Errorf("query visitor: %w", err)
	}

	return badge.Visitor{
		VisitorID:   row.VisitorID,
		Name:        row.Name,
		CompanyName: row.CompanyName,
		Photo:       row.Photo,
	}, nil
}
