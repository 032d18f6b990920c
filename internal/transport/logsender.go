package transport

import (
	"context"
	"sync/atomic"

	logx "modbot/pkg/logx"
)

// LogSender writes every message to the log instead of a chat.
// It is used when no messaging token is configured (dry runs, CLI tools).
type LogSender struct {
	log logx.Logger
	seq atomic.Int64
}

func NewLogSender(log logx.Logger) *LogSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSender{log: log}
}

func (s *LogSender) SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error) {
	_ = opt
	if err := ctx.Err(); err != nil {
		return MessageRef{}, err
	}
	id := int(s.seq.Add(1))
	s.log.Info("notice", logx.Int64("chat_id", to.ChatID), logx.Int("thread_id", to.ThreadID), logx.String("text", text))
	return MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, nil
}
