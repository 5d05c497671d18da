package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txraft/rpcnode/rpctypes"
)

func noopHandler(args *RequestArgs) (bool, interface{}, error) {
	return true, "ok", nil
}

func TestInstallAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Install("echo", noopHandler, Read, nil, nil, CanForward)

	h, ok := r.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, Read, h.RW)
	assert.Equal(t, CanForward, h.Forwardable)
}

func TestLookupUnknownFallsBackToDefault(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("missing")
	assert.False(t, ok)

	r.SetDefault(noopHandler, Write)
	h, ok := r.Lookup("anything")
	require.True(t, ok)
	assert.Equal(t, Write, h.RW)
}

func TestListIsSorted(t *testing.T) {
	r := NewRegistry()
	r.Install("zeta", noopHandler, Read, nil, nil, CanForward)
	r.Install("alpha", noopHandler, Read, nil, nil, CanForward)
	r.Install("mu", noopHandler, Read, nil, nil, CanForward)

	assert.Equal(t, []string{"alpha", "mu", "zeta"}, r.List())
}

func TestSchemaUnknownMethod(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Schema("nope")
	require.Error(t, err)

	var rpcErr *rpctypes.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpctypes.InvalidParams, rpcErr.Code)
}

func TestSchemaKnownMethod(t *testing.T) {
	r := NewRegistry()
	r.Install("withSchema", noopHandler, Read, "paramsSchema", "resultSchema", CanForward)

	params, result, err := r.Schema("withSchema")
	require.NoError(t, err)
	assert.Equal(t, "paramsSchema", params)
	assert.Equal(t, "resultSchema", result)
}
