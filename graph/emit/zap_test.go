package emit

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapEmitter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	emitter := NewZapEmitter(zap.New(core))

	emitter.Emit(Event{ThreadID: "t1", Graph: "g", Step: 1, NodeID: "n", Msg: MsgNodeStart})
	emitter.Emit(Event{ThreadID: "t1", Graph: "g", Step: 1, NodeID: "n", Msg: MsgNodeError,
		Meta: map[string]interface{}{"code": "LLM_UNAVAILABLE"}})
	emitter.Emit(Event{ThreadID: "t1", Graph: "g", Step: 2, Msg: MsgInterrupt})
	emitter.Emit(Event{ThreadID: "t1", Graph: "g", Step: 2, Msg: MsgRunFailed})

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}

	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.WarnLevel, zapcore.InfoLevel, zapcore.ErrorLevel}
	for i, want := range wantLevels {
		if entries[i].Level != want {
			t.Errorf("entry %d (%s) level = %s, want %s", i, entries[i].Message, entries[i].Level, want)
		}
	}

	fields := entries[1].ContextMap()
	if fields["thread_id"] != "t1" || fields["node"] != "n" || fields["code"] != "LLM_UNAVAILABLE" {
		t.Errorf("unexpected fields: %v", fields)
	}
	if entries[0].LoggerName != "workflow" {
		t.Errorf("logger name = %q, want workflow", entries[0].LoggerName)
	}
}

func TestZapEmitter_LevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	emitter := NewZapEmitter(zap.New(core))

	emitter.Emit(Event{ThreadID: "t", Msg: MsgNodeStart})
	emitter.Emit(Event{ThreadID: "t", Msg: MsgCheckpoint})
	emitter.Emit(Event{ThreadID: "t", Msg: MsgRunComplete})

	if logs.Len() != 1 {
		t.Errorf("expected only the info entry, got %d", logs.Len())
	}
}

func TestNewZapEmitter_NilLogger(t *testing.T) {
	NewZapEmitter(nil).Emit(Event{ThreadID: "t", Msg: MsgRunFailed})
}
