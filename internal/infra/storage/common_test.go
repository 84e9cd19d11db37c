package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestWithAttributes_DoesNotShareBacking(t *testing.T) {
	base := make([]attribute.KeyValue, 1, 4)
	base[0] = attribute.String("db.system", "sqlite")

	first := WithAttributes(base, attribute.Int("rows", 1))
	second := WithAttributes(base, attribute.Int("rows", 2))

	assert.Equal(t, []attribute.KeyValue{
		attribute.String("db.system", "sqlite"),
		attribute.Int("rows", 1),
	}, first)
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("db.system", "sqlite"),
		attribute.Int("rows", 2),
	}, second)
	assert.Len(t, base, 1)
}

func TestExecuteAndTrace_ReturnsOperationError(t *testing.T) {
	errBoom := errors.New("boom")

	err := ExecuteAndTrace(context.Background(), NoOpTracer(), "test.op", nil, func(context.Context) error {
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	called := false
	err = ExecuteAndTrace(context.Background(), NoOpTracer(), "test.op", nil, func(context.Context) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}
