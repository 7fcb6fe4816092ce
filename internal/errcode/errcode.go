package errcode

// 工牌相关的业务码：
// - 0：成功
// - 4xxx：可继续的告警（素材缺失时元素被隐藏，工牌照常输出）
// - 5xxx：打印任务失败
const (
	OK              = 0
	ResourceMissing = 4004
	PrintLimited    = 4029
	SystemError     = 5000
)

var messages = map[int]string{
	OK:              "ok",
	ResourceMissing: "部分素材缺失/无效，已自动隐藏并继续渲染",
	PrintLimited:    "打印次数已达上限，请稍后再试",
	SystemError:     "工牌打印失败",
}

// Message 返回业务码的默认提示，未知码返回空串。
func Message(code int) string {
	return messages[code]
}
