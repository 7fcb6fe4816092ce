package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CardDesignKey 是唯一一份卡片设计的主键（不区分租户）。
const CardDesignKey = "card-design"

// CardDesign 保存整份卡片设计，每次保存整体覆盖。
type CardDesign struct {
	gorm.Model
	Key     string         `gorm:"uniqueIndex;size:64"`
	Content datatypes.JSON `gorm:"type:jsonb"` // 扁平的 card-design 文档
}

// Visitor 是访客主数据的只读视图，增删改由其他服务负责。
type Visitor struct {
	gorm.Model
	VisitorID   string `gorm:"uniqueIndex;size:64"`
	Name        string `gorm:"size:255"`
	CompanyName string `gorm:"size:255"`
	Photo       string `gorm:"size:512"`
}

// 打印任务状态。
const (
	PrintStatusPending   = "pending"
	PrintStatusCompleted = "completed"
	PrintStatusFailed    = "failed"
)

// BadgePrint 记录一次工牌打印（一张卡一个任务）。
type BadgePrint struct {
	gorm.Model
	VisitorID     string         `gorm:"index;size:64"`
	Status        string         `gorm:"size:16;default:'pending'"`
	PdfKey        string         `gorm:"size:255"`
	PreviewKey    string         `gorm:"size:255"`
	MissingKeys   datatypes.JSON `gorm:"type:jsonb"`
	CorrelationID string         `gorm:"size:64"`
	ErrorMessage  string         `gorm:"size:512"`
}
