package types_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
)

func TestParsePrincipal_TrimsAndNormalises(t *testing.T) {
	// "e" + combining acute accent composes to U+00E9 under NFC.
	p, err := types.ParsePrincipal("  jose\u0301  ")
	require.NoError(t, err)
	assert.Equal(t, types.Principal("jos\u00e9"), p)

	composed, err := types.ParsePrincipal("jos\u00e9")
	require.NoError(t, err)
	assert.Equal(t, composed, p)
}

func TestParsePrincipal_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":    "",
		"blank":    "   ",
		"control":  "alice\x00",
		"too long": strings.Repeat("a", types.MaxPrincipalLength+1),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := types.ParsePrincipal(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, fault.ErrInvalidInput)
		})
	}
}

func TestCheckText(t *testing.T) {
	assert.NoError(t, types.CheckText("reference", ""))
	assert.NoError(t, types.CheckText("reference", strings.Repeat("x", types.MaxTextLength)))

	err := types.CheckText("reference", strings.Repeat("x", types.MaxTextLength+1))
	require.Error(t, err)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))

	assert.NoError(t, types.CheckOptionalText("key_hash", nil))
	long := strings.Repeat("k", types.MaxTextLength+1)
	assert.Error(t, types.CheckOptionalText("key_hash", &long))
}
