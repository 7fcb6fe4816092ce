package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeBadgePrint = "badge:print"
)

// BadgePrintPayload 描述打印一张工牌所需的最小信息。
type BadgePrintPayload struct {
	PrintID       uint   `json:"print_id"`
	VisitorID     string `json:"visitor_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewBadgePrintTask 构造一个工牌打印任务，一张卡片对应一个任务。
func NewBadgePrintTask(printID uint, visitorID, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(BadgePrintPayload{
		PrintID:       printID,
		VisitorID:     visitorID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBadgePrint, payload), nil
}
