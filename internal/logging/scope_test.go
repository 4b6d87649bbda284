package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestRegisterScopeIdempotent(t *testing.T) {
	a := RegisterScope("test-scope-a", "first registration", zapcore.InfoLevel)
	b := RegisterScope("test-scope-a", "second registration ignored", zapcore.DebugLevel)
	require.Same(t, a, b)
}

func TestRegisterScopeDistinctNames(t *testing.T) {
	a := RegisterScope("test-scope-b1", "b1", zapcore.InfoLevel)
	b := RegisterScope("test-scope-b2", "b2", zapcore.InfoLevel)
	require.NotSame(t, a, b)
}

func TestScopeWithAddsFields(t *testing.T) {
	s := RegisterScope("test-scope-c", "c", zapcore.InfoLevel)
	child := s.With()
	require.NotNil(t, child)
	s.Info("base message")
	child.Info("child message")
}
