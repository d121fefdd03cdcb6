package rag

// EventType 流式响应事件类型
type EventType string

const (
	// EventSources 来源事件，始终是流中的第一个事件
	EventSources EventType = "sources"
	// EventChunk 回答片段事件
	EventChunk EventType = "chunk"
	// EventError 终止性错误事件，出现后不再有done
	EventError EventType = "error"
	// EventDone 正常结束事件，始终是流中的最后一个事件
	EventDone EventType = "done"
)

// Event 流式查询的事件。事件顺序固定：
// sources → 一个或多个chunk → done（失败时以error收尾）。
type Event struct {
	Type    EventType `json:"type"`
	Sources []Source  `json:"sources,omitempty"`
	Content string    `json:"content,omitempty"`
	Err     error     `json:"-"`
}
