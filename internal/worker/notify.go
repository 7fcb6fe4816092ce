package worker

// BadgePrintNotifyMessage 是 badge_print:<visitorId> 频道的消息体。
// 注意：这里的字段名与前端解析保持一致。
type BadgePrintNotifyMessage struct {
	Status        string   `json:"status"`
	PrintID       uint     `json:"print_id"`
	VisitorID     string   `json:"visitor_id"`
	CorrelationID string   `json:"correlation_id"`
	ErrorCode     int      `json:"error_code"`
	ErrorMessage  string   `json:"error_message"`
	MissingKeys   []string `json:"missing_keys,omitempty"`
	Elements      []string `json:"elements,omitempty"`
}

// BadgePrintChannel 返回访客打印结果的通知频道，与 API 侧一致。
func BadgePrintChannel(visitorID string) string {
	return "badge_print:" + visitorID
}
