package logging_test

import (
	"testing"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Parallel()

	l, err := logging.New("debug", logging.FormatConsole)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = logging.New("", "")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = logging.New("loud", logging.FormatJSON)
	assert.Error(t, err)

	_, err = logging.New("info", "xml")
	assert.Error(t, err)
}

func TestCDC(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	l := logging.CDC(zap.New(core))

	l.Info("slot created", "slot", "replication_slot_task")
	l.Error("ack", "error", "boom")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "slot created", entries[0].Message)
	assert.Equal(t, "replication_slot_task", entries[0].ContextMap()["slot"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
