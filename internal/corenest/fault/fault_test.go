package fault_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
)

func TestCodesAreStable(t *testing.T) {
	assert.Equal(t, fault.Code(101), fault.CodeNoPermission)
	assert.Equal(t, fault.Code(102), fault.CodeNotFound)
	assert.Equal(t, fault.Code(103), fault.CodeInvalidInput)
}

func TestWrappedFaultMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("grant-access record 7: %w", fault.ErrNoPermission)

	assert.True(t, errors.Is(err, fault.ErrNoPermission))
	assert.False(t, errors.Is(err, fault.ErrNotFound))
	assert.Equal(t, fault.CodeNoPermission, fault.CodeOf(err))
	assert.Equal(t, "no_permission", fault.KindOf(err))
}

func TestInvalidCarriesMessageAndCode(t *testing.T) {
	err := fault.Invalid("reference exceeds %d characters", 256)

	assert.ErrorIs(t, err, fault.ErrInvalidInput)
	assert.Equal(t, "reference exceeds 256 characters", err.Error())
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))
}

func TestNonFaultHasZeroCode(t *testing.T) {
	err := errors.New("disk on fire")

	assert.Equal(t, fault.Code(0), fault.CodeOf(err))
	assert.Equal(t, "", fault.KindOf(err))
	assert.NotErrorIs(t, err, fault.ErrNotFound)
}

func TestFromCode(t *testing.T) {
	err, ok := fault.FromCode(102, "record 9 not found")
	assert.True(t, ok)
	assert.ErrorIs(t, err, fault.ErrNotFound)
	assert.Equal(t, "not_found", err.Kind)
	assert.Equal(t, "record 9 not found", err.Message)

	err, ok = fault.FromCode(101, "")
	assert.True(t, ok)
	assert.Equal(t, fault.ErrNoPermission.Message, err.Message)

	_, ok = fault.FromCode(999, "x")
	assert.False(t, ok)
}
