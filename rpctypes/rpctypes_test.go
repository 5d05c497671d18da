package rpctypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodeString(t *testing.T) {
	cases := map[ErrorCode]string{
		InvalidRequest:         "INVALID_REQUEST",
		InvalidCallerID:        "INVALID_CALLER_ID",
		InvalidClientSignature: "INVALID_CLIENT_SIGNATURE",
		MethodNotFound:         "METHOD_NOT_FOUND",
		InvalidParams:          "INVALID_PARAMS",
		ParseErrorCode:         "PARSE_ERROR",
		TxNotLeader:            "TX_NOT_LEADER",
		TxLeaderUnknown:        "TX_LEADER_UNKNOWN",
		TxFailedToReplicate:    "TX_FAILED_TO_REPLICATE",
		InternalError:          "INTERNAL_ERROR",
	}
	for code, want := range cases {
		assert.Equal(t, want, code.String())
	}
	assert.Equal(t, "UNKNOWN_ERROR", ErrorCode(999).String())
}

func TestNewRPCError(t *testing.T) {
	err := NewRPCError(InvalidParams, "bad field %s", "x")
	require.EqualError(t, err, "INVALID_PARAMS: bad field x")
}

func TestParseErrorUnwrap(t *testing.T) {
	inner := NewRPCError(InternalError, "boom")
	pe := &ParseError{Pointer: "/params/0", Err: inner}
	require.ErrorIs(t, pe, inner)
}

func TestEnvelopeIsReadOnly(t *testing.T) {
	var env Envelope
	assert.True(t, env.IsReadOnly(), "absent readonly defaults true")

	f := false
	env.ReadOnly = &f
	assert.False(t, env.IsReadOnly())

	tr := true
	env.ReadOnly = &tr
	assert.True(t, env.IsReadOnly())
}

func TestNewErrorValue(t *testing.T) {
	ev := NewErrorValue(7, TxNotLeader, "host:1234")
	assert.Equal(t, int64(7), ev.ID)
	assert.Equal(t, RPCVersion, ev.JSONRPC)
	assert.Equal(t, "TX_NOT_LEADER", ev.Error.Code)
	assert.Equal(t, "host:1234", ev.Error.Message)
}
