package emit

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapEmitter implements Emitter by logging events through a zap.Logger.
//
// Failures and node errors log at Warn or Error, node lifecycle events at
// Debug, and thread-level transitions at Info.
type ZapEmitter struct {
	logger *zap.Logger
}

// NewZapEmitter creates a ZapEmitter. A nil logger is replaced by zap.NewNop.
func NewZapEmitter(logger *zap.Logger) *ZapEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapEmitter{logger: logger.Named("workflow")}
}

// Emit logs the event.
func (z *ZapEmitter) Emit(event Event) {
	fields := make([]zap.Field, 0, 4+len(event.Meta))
	fields = append(fields,
		zap.String("thread_id", event.ThreadID),
		zap.String("graph", event.Graph),
		zap.Int("step", event.Step),
	)
	if event.NodeID != "" {
		fields = append(fields, zap.String("node", event.NodeID))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, event.Meta[k]))
	}

	if ce := z.logger.Check(levelFor(event.Msg), event.Msg); ce != nil {
		ce.Write(fields...)
	}
}

func levelFor(msg string) zapcore.Level {
	switch msg {
	case MsgRunFailed:
		return zapcore.ErrorLevel
	case MsgNodeError, MsgLockConflict:
		return zapcore.WarnLevel
	case MsgNodeStart, MsgNodeEnd, MsgCheckpoint:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
