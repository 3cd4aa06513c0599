package handshake

import (
	"time"

	"go.uber.org/zap"
)

// NoticeKind classifies a user-visible, non-blocking notification.
type NoticeKind string

const (
	NoticeStateChanged       NoticeKind = "state_changed"
	NoticeValidation         NoticeKind = "validation"
	NoticePrecondition       NoticeKind = "precondition"
	NoticeRejected           NoticeKind = "rejected"
	NoticeTransientFailure   NoticeKind = "transient_failure"
	NoticeAwaitingResponse   NoticeKind = "awaiting_response"
	NoticeLeaveSubmitted     NoticeKind = "leave_submitted"
	NoticeLeaveStatusChanged NoticeKind = "leave_status_changed"
)

// Notice is delivered after the state lock is released.
type Notice struct {
	Kind      NoticeKind
	State     State
	Message   string
	Err       error
	RequestID string
	At        time.Time
}

// Notifier receives notices. Notify must not block.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// ChannelNotifier forwards notices to C, dropping them when C is full.
type ChannelNotifier struct {
	C chan Notice
}

func NewChannelNotifier(size int) *ChannelNotifier {
	return &ChannelNotifier{C: make(chan Notice, size)}
}

func (c *ChannelNotifier) Notify(n Notice) {
	select {
	case c.C <- n:
	default:
	}
}

// logNotifier is the default: notices go to the log.
type logNotifier struct {
	logger *zap.Logger
}

func (l logNotifier) Notify(n Notice) {
	fields := []zap.Field{
		zap.String("kind", string(n.Kind)),
		zap.String("state", string(n.State)),
	}
	if n.RequestID != "" {
		fields = append(fields, zap.String("request_id", n.RequestID))
	}
	if n.Err != nil {
		fields = append(fields, zap.Error(n.Err))
	}
	switch n.Kind {
	case NoticeTransientFailure, NoticeRejected, NoticeValidation, NoticePrecondition:
		l.logger.Warn(n.Message, fields...)
	default:
		l.logger.Info(n.Message, fields...)
	}
}

// fanout delivers to several notifiers in order.
type fanout []Notifier

func (f fanout) Notify(n Notice) {
	for _, x := range f {
		x.Notify(n)
	}
}
