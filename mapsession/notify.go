package mapsession

import (
	"log/slog"

	"github.com/GrainArc/FenceMap/methods"
)

// 通知级别
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Notification 面向用户的提示
type Notification struct {
	Level   string
	Code    string
	Message string
	Err     error
}

// Notifier 提示输出
type Notifier interface {
	Notify(n Notification)
}

// LogNotifier 把提示写入日志
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(note Notification) {
	if note.Err != nil {
		methods.LogError(n.logger, note.Message, note.Err)
		return
	}
	n.logger.Info(note.Message, "code", note.Code)
}

// errorNotification 把管线错误转换为提示
func errorNotification(err error) Notification {
	code := methods.ErrorCode(err)
	msg := "操作失败"
	switch code {
	case methods.CodeValidation:
		msg = "编辑无效"
	case methods.CodeNetwork:
		msg = "网络请求失败"
	}
	return Notification{Level: LevelError, Code: code, Message: msg, Err: err}
}
