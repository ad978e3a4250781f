package service_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
	"github.com/BrandonDHaskell/corenest/internal/corenest/service"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
)

// scenario is one flow from testdata/scenarios.yaml.
type scenario struct {
	Name  string `yaml:"name"`
	Steps []step `yaml:"steps"`
}

type step struct {
	Op           string  `yaml:"op"`
	As           string  `yaml:"as"`
	Record       uint64  `yaml:"record"`
	Reference    string  `yaml:"reference"`
	KeyHash      *string `yaml:"key_hash"`
	Grantee      string  `yaml:"grantee"`
	EncryptedKey *string `yaml:"encrypted_key"`
	Expect       expect  `yaml:"expect"`
}

type expect struct {
	Error       string  `yaml:"error"`
	ID          uint64  `yaml:"id"`
	OK          bool    `yaml:"ok"`
	Reference   string  `yaml:"reference"`
	Key         *string `yaml:"key"`
	KeyHash     *string `yaml:"key_hash"`
	AccessCount *uint64 `yaml:"access_count"`
}

func loadScenarios(t *testing.T) []scenario {
	t.Helper()
	data, err := os.ReadFile("testdata/scenarios.yaml")
	require.NoError(t, err)

	var out []scenario
	require.NoError(t, yaml.Unmarshal(data, &out))
	require.NotEmpty(t, out)
	return out
}

func TestScenarios(t *testing.T) {
	for _, sc := range loadScenarios(t) {
		t.Run(sc.Name, func(t *testing.T) {
			eachBackend(t, func(t *testing.T, v *service.Vault) {
				for i, st := range sc.Steps {
					runStep(t, v, fmt.Sprintf("step %d (%s as %s)", i+1, st.Op, st.As), st)
				}
			})
		})
	}
}

func runStep(t *testing.T, v *service.Vault, label string, st step) {
	t.Helper()
	ctx := context.Background()
	caller := types.Principal(st.As)
	grantee := types.Principal(st.Grantee)

	var (
		err error
		got expect
	)
	switch st.Op {
	case "store-data":
		got.ID, err = v.StoreData(ctx, caller, st.Reference, st.KeyHash)
	case "grant-access":
		err = v.GrantAccess(ctx, caller, st.Record, grantee, st.EncryptedKey)
		got.OK = err == nil
	case "revoke-access":
		err = v.RevokeAccess(ctx, caller, st.Record, grantee)
		got.OK = err == nil
	case "access-data":
		var res types.AccessResult
		res, err = v.AccessData(ctx, caller, st.Record)
		got.Reference, got.Key = res.Reference, res.Key
	case "get-key-hash":
		got.KeyHash, err = v.GetKeyHash(ctx, caller, st.Record)
	case "get-data-access-log":
		var lg types.AccessLog
		lg, err = v.GetDataAccessLog(ctx, caller, st.Record, grantee)
		got.AccessCount = &lg.AccessCount
	default:
		t.Fatalf("%s: unknown op", label)
	}

	if st.Expect.Error != "" {
		require.Error(t, err, label)
		assert.Equal(t, st.Expect.Error, fault.KindOf(err), label)
		return
	}
	require.NoError(t, err, label)

	switch st.Op {
	case "store-data":
		assert.Equal(t, st.Expect.ID, got.ID, label)
	case "grant-access", "revoke-access":
		assert.Equal(t, st.Expect.OK, got.OK, label)
	case "access-data":
		assert.Equal(t, st.Expect.Reference, got.Reference, label)
		assert.Equal(t, st.Expect.Key, got.Key, label)
	case "get-key-hash":
		assert.Equal(t, st.Expect.KeyHash, got.KeyHash, label)
	case "get-data-access-log":
		require.NotNil(t, st.Expect.AccessCount, label)
		assert.Equal(t, *st.Expect.AccessCount, *got.AccessCount, label)
	}
}
