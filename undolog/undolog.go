// Package undolog 记录最近的图形写操作，支持撤销与重做
package undolog

import (
	"time"

	"github.com/GrainArc/FenceMap/models"
)

// DefaultCapacity 默认保留的操作条数
const DefaultCapacity = 20

// Op 操作类型
type Op string

const (
	OpCreate     Op = "CREATE"
	OpDelete     Op = "DELETE"
	OpUpdate     Op = "UPDATE"
	OpBulkCreate Op = "BULK_CREATE"
	OpSplit      Op = "SPLIT"
)

// Record 一条写操作记录
type Record struct {
	Op      Op
	Payload Payload
	At      time.Time
}

// Payload 撤销所需的前后状态
//
// CREATE/BULK_CREATE: After 为新建图形
// DELETE: Before 为删除前图形
// UPDATE: Before/After 各一条
// SPLIT: Before 为原图形，After 为切分结果
type Payload struct {
	Before []models.Shape
	After  []models.Shape
}

// Log 环形缓冲的操作日志与重做栈，新操作入栈时清空重做栈
type Log struct {
	capacity int
	records  []Record
	redo     []Record
}

// New 创建日志；capacity<=0 时使用默认值
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// Push 记录新操作，超出容量丢弃最旧一条
func (l *Log) Push(op Op, payload Payload) Record {
	rec := Record{Op: op, Payload: payload, At: time.Now()}
	l.records = append(l.records, rec)
	if len(l.records) > l.capacity {
		l.records = l.records[len(l.records)-l.capacity:]
	}
	l.redo = nil
	return rec
}

// Peek 最近一条操作，不出栈
func (l *Log) Peek() (Record, bool) {
	if len(l.records) == 0 {
		return Record{}, false
	}
	return l.records[len(l.records)-1], true
}

// PeekRedo 最近撤销的操作，不出栈
func (l *Log) PeekRedo() (Record, bool) {
	if len(l.redo) == 0 {
		return Record{}, false
	}
	return l.redo[len(l.redo)-1], true
}

// Undo 弹出最近一条操作并放入重做栈
func (l *Log) Undo() (Record, bool) {
	if len(l.records) == 0 {
		return Record{}, false
	}
	rec := l.records[len(l.records)-1]
	l.records = l.records[:len(l.records)-1]
	l.redo = append(l.redo, rec)
	return rec, true
}

// Redo 弹出最近撤销的操作并放回日志
func (l *Log) Redo() (Record, bool) {
	if len(l.redo) == 0 {
		return Record{}, false
	}
	rec := l.redo[len(l.redo)-1]
	l.redo = l.redo[:len(l.redo)-1]
	l.records = append(l.records, rec)
	return rec, true
}

// Records 从旧到新的操作副本
func (l *Log) Records() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Log) Len() int     { return len(l.records) }
func (l *Log) RedoLen() int { return len(l.redo) }
