package log

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLoggerLevels(t *testing.T) {
	lg, props, err := InitLogger(&Config{Level: "trace"})
	require.NoError(t, err)
	require.NotNil(t, lg)
	assert.Equal(t, zapcore.DebugLevel, props.Level.Level())

	_, props, err = InitLogger(&Config{})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, props.Level.Level())

	_, _, err = InitLogger(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestInitLoggerFile(t *testing.T) {
	dir := t.TempDir()
	lg, _, err := InitLogger(&Config{
		Level:  "info",
		Format: FormatJSON,
		File:   FileLogConfig{RootPath: dir, Filename: "linechat.log"},
	})
	require.NoError(t, err)

	lg.Info("hello file", FieldChannel("general"))
	require.NoError(t, lg.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "linechat.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello file"`)
	assert.Contains(t, string(data), `"channel":"general"`)

	_, _, err = InitLogger(&Config{File: FileLogConfig{RootPath: filepath.Dir(dir), Filename: filepath.Base(dir)}})
	assert.Error(t, err)
}

func TestCtxLogger(t *testing.T) {
	lg, props, err := InitTestLogger(t, &Config{Level: "debug"})
	require.NoError(t, err)
	old, oldProps := L(), _globalP.Load().(*ZapProperties)
	ReplaceGlobals(lg, props)
	t.Cleanup(func() { ReplaceGlobals(old, oldProps) })

	assert.Same(t, L(), Ctx(context.Background()).Logger)

	ctx := WithModule(context.Background(), "eventloop")
	ml := Ctx(ctx)
	assert.NotSame(t, L(), ml.Logger)
	ml.Info("module scoped", zap.Int("n", 1))

	bound := &MLogger{Logger: L()}
	assert.Same(t, bound, Ctx(WithCtxLogger(ctx, bound)))

	SetLevel(zapcore.WarnLevel)
	assert.Equal(t, zapcore.WarnLevel, GetLevel())
}

func TestRatedLogger(t *testing.T) {
	lg, _, err := InitTestLogger(t, &Config{Level: "debug"})
	require.NoError(t, err)

	ml := (&MLogger{Logger: lg}).WithRateGroup("test.rated", 1, 1)
	assert.True(t, ml.RatedWarn(1, "first passes"))
	assert.False(t, ml.RatedWarn(1, "second is dropped"))

	child := ml.With(FieldSlot(3))
	assert.False(t, child.RatedInfo(1, "child shares the group"))

	free := &MLogger{Logger: lg}
	assert.True(t, free.RatedDebug(100, "no group falls back to the global limiter"))
}

func TestBinder(t *testing.T) {
	var b Binder
	assert.NotNil(t, b.Logger())

	ml := &MLogger{Logger: zap.NewNop()}
	b.SetLogger(ml)
	assert.Same(t, ml, b.Logger())
}
