package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithTaskID(context.Background(), "t1")

	tl.Trace(ctx, "raw payload")
	tl.Info(ctx, "step completed", zap.Int("step", 2), zap.String("tool", "run_code"))

	tl.AssertLogged(t, TraceLevel, "raw payload")
	tl.AssertLogged(t, zapcore.InfoLevel, "step completed")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "step completed")
	tl.AssertField(t, "step completed", "tool", "run_code")
	tl.AssertField(t, "step completed", "step", int64(2))
	tl.AssertField(t, "step completed", "task.id", "t1")
	assert.Equal(t, 1, tl.FilterMessage("step").Len())
	tl.AssertNoSecrets(t)

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestTestLogger_AssertNoSecrets(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "auth", zap.String("password", "hunter2"))

	rec := &recordingTB{TB: t}
	tl.AssertNoSecrets(rec)
	assert.True(t, rec.failed)

	tl.Reset()
	tl.Info(context.Background(), "auth", RedactedString("password", "hunter2"))
	rec = &recordingTB{TB: t}
	tl.AssertNoSecrets(rec)
	assert.False(t, rec.failed)
}

type recordingTB struct {
	testing.TB
	failed bool
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(string, ...any) { r.failed = true }
