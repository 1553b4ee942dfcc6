package errors_test

import (
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "retail-pricing/pkg/errors"
)

func TestMissingInputError(t *testing.T) {
	err := perrors.NewMissingInputError("sales", "data/daily_sales.csv", fs.ErrNotExist)

	assert.Contains(t, err.Error(), "MISSING_INPUT")
	assert.Contains(t, err.Error(), "data/daily_sales.csv")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, perrors.SeverityError, err.Severity())

	wrapped := fmt.Errorf("integrate: %w", err)
	assert.True(t, perrors.IsMissingInput(wrapped))
	assert.False(t, perrors.IsInvalidInput(wrapped))
}

func TestInvalidInputError(t *testing.T) {
	err := perrors.NewInvalidInputError("inventory", "inventory.csv", 3, "bad %s", "stock")
	require.Equal(t, "bad stock", err.Reason)
	assert.Contains(t, err.Error(), "(row 3)")
	assert.True(t, perrors.IsInvalidInput(fmt.Errorf("wrap: %w", err)))

	empty := perrors.NewEmptyInputError("catalog", "")
	assert.NotContains(t, empty.Error(), "(row")
	assert.Equal(t, perrors.ErrCodeInvalidInput, empty.Code())
}

func TestParseWarning(t *testing.T) {
	w := &perrors.ParseWarning{Source: "competitor", Row: 2, Field: "precio_descuento", Key: "SUB-1", Raw: "N/A"}
	assert.Equal(t, perrors.SeverityWarning, w.Severity())
	assert.Contains(t, w.Error(), `"N/A"`)
	assert.Equal(t, "warning", w.Severity().String())
	assert.Equal(t, "unknown", perrors.Severity(42).String())
}
