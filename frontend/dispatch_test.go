package frontend

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/txraft/rpcnode/consensus"
	"github.com/txraft/rpcnode/forwarder"
	"github.com/txraft/rpcnode/kvstore"
	"github.com/txraft/rpcnode/tlsverify"
	"github.com/txraft/rpcnode/wirecodec"
)

func newTestDispatcher(selfID consensus.NodeID, replicator *consensus.Replicator, fwd *forwarder.Forwarder, certsConfigured, clientSigsConfigured bool) (*Dispatcher, *kvstore.Store) {
	store := kvstore.New()
	d := NewDispatcher(DispatcherConfig{
		SelfID:               selfID,
		Store:                store,
		Replicator:           replicator,
		Forwarder:            fwd,
		CertsConfigured:      certsConfigured,
		ClientSigsConfigured: clientSigsConfigured,
		MetricsNamespace:     "test",
	})
	return d, store
}

func decodeResponse(t *testing.T, raw []byte) map[string]interface{} {
	var v map[string]interface{}
	assert.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type DispatchSuite struct {
	suite.Suite
}

func TestDispatchSuite(t *testing.T) {
	suite.Run(t, new(DispatchSuite))
}

// Scenario 1: unsigned read on the leader.
func (s *DispatchSuite) TestUnsignedReadOnLeader() {
	d, _ := newTestDispatcher(consensus.NodeID("n1"), nil, nil, false, false)

	req := []byte(`{"jsonrpc":"2.0","id":7,"method":"listMethods"}`)
	ctx := &RPCContext{}
	outcome, raw := d.Process(ctx, req)
	s.Equal(OutcomeResponded, outcome.Kind)

	resp := decodeResponse(s.T(), raw)
	s.Equal(float64(7), resp["id"])
	s.Contains(resp, "commit")

	result, ok := resp["result"].(map[string]interface{})
	s.Require().True(ok)
	methods, ok := result["methods"].([]interface{})
	s.Require().True(ok)
	s.NotEmpty(methods)
	for i := 1; i < len(methods); i++ {
		s.LessOrEqual(methods[i-1].(string), methods[i].(string))
	}
}

// Scenario 2: write on a follower with no forwarder attached redirects with
// the leader's address.
func (s *DispatchSuite) TestWriteOnFollowerWithoutForwarderRedirects() {
	replicator := consensus.New(consensus.NodeID("follower"))
	leaderID := consensus.NodeID("leader")
	replicator.BecomeFollower(1, &leaderID)
	replicator.AddNode(leaderID, consensus.NodeInfo{Host: "h", Port: "p", Status: "TRUSTED"})

	d, _ := newTestDispatcher(consensus.NodeID("follower"), replicator, nil, false, false)
	d.Registry().Install("setValue", func(args *RequestArgs) (bool, interface{}, error) {
		args.Tx.Put("k", []byte("v"))
		return true, "ok", nil
	}, Write, nil, nil, CanForward)

	req := []byte(`{"jsonrpc":"2.0","id":9,"method":"setValue"}`)
	outcome, raw := d.Process(&RPCContext{}, req)
	s.Equal(OutcomeResponded, outcome.Kind)

	resp := decodeResponse(s.T(), raw)
	errBody, ok := resp["error"].(map[string]interface{})
	s.Require().True(ok)
	s.Equal("TX_NOT_LEADER", errBody["code"])
	s.Equal("h:p", errBody["message"])
}

// Scenario 3: write on a follower with a forwarder attached is forwarded to
// the leader synchronously and the leader's reply comes back untouched.
func (s *DispatchSuite) TestWriteOnFollowerWithForwarderIsForwarded() {
	net := forwarder.NewChanNetwork(time.Second)

	leaderTransport, err := net.NewNode(consensus.NodeID("leader"))
	s.Require().NoError(err)
	followerTransport, err := net.NewNode(consensus.NodeID("follower"))
	s.Require().NoError(err)

	leaderReplicator := consensus.New(consensus.NodeID("leader"))
	leaderReplicator.BecomeLeader(1)
	leaderDispatcher, leaderStore := newTestDispatcher(consensus.NodeID("leader"), leaderReplicator, forwarder.New(leaderTransport), false, false)
	leaderDispatcher.Registry().Install("setValue", func(args *RequestArgs) (bool, interface{}, error) {
		args.Tx.Put("k", []byte("v"))
		return true, "committed-on-leader", nil
	}, Write, nil, nil, CanForward)

	leaderNodeID := consensus.NodeID("leader")
	followerReplicator := consensus.New(consensus.NodeID("follower"))
	followerReplicator.BecomeFollower(1, &leaderNodeID)
	followerFwd := forwarder.New(followerTransport)
	followerDispatcher, _ := newTestDispatcher(consensus.NodeID("follower"), followerReplicator, followerFwd, false, false)
	followerDispatcher.Registry().Install("setValue", func(args *RequestArgs) (bool, interface{}, error) {
		s.Fail("follower must not execute a forwarded write locally")
		return false, nil, nil
	}, Write, nil, nil, CanForward)

	req := []byte(`{"jsonrpc":"2.0","id":13,"method":"setValue"}`)
	outcome, raw := followerDispatcher.Process(&RPCContext{}, req)
	s.Equal(OutcomeForwarded, outcome.Kind)

	resp := decodeResponse(s.T(), raw)
	s.Equal("committed-on-leader", resp["result"])
	s.Equal(int64(1), leaderStore.CurrentVersion())
}

// Scenario 4: a correctly signed request succeeds and its SignedRequest is
// recorded against the caller id.
func (s *DispatchSuite) TestSignedRequestValidSignatureIsRecorded() {
	pub, priv, err := ed25519.GenerateKey(nil)
	s.Require().NoError(err)

	d, store := newTestDispatcher(consensus.NodeID("n1"), nil, nil, true, true)
	const callerID = CallerId(42)
	store.RegisterCert(pub, uint64(callerID))
	d.Registry().Install("setValue", func(args *RequestArgs) (bool, interface{}, error) {
		args.Tx.Put("k", []byte("v"))
		return true, "ok", nil
	}, Write, nil, nil, DoNotForward)

	reqMap := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      float64(21),
		"method":  "setValue",
	}
	reqBin, err := wirecodec.Encode(reqMap, wirecodec.FramingBinary)
	s.Require().NoError(err)
	sig := tlsverify.Sign(priv, reqBin)

	top := map[string]interface{}{"sig": sig, "req": reqMap, "md": tlsverify.HashAlg}
	raw, err := json.Marshal(top)
	s.Require().NoError(err)

	_, reply := d.Process(&RPCContext{CallerCert: pub}, raw)
	resp := decodeResponse(s.T(), reply)
	s.Equal("ok", resp["result"])

	signed, ok := GetSignedRequest(store.Begin(), callerID)
	s.Require().True(ok)
	s.Equal(reqBin, signed.Req)
	s.Equal([]byte(sig), signed.Sig)
	s.Equal(raw, signed.RawReq)
	s.Equal(tlsverify.HashAlg, signed.MD)
}

// Scenario 5: an invalid signature is rejected and nothing is recorded.
func (s *DispatchSuite) TestSignedRequestInvalidSignatureIsRejected() {
	pub, _, err := ed25519.GenerateKey(nil)
	s.Require().NoError(err)
	_, otherPriv, err := ed25519.GenerateKey(nil)
	s.Require().NoError(err)

	d, store := newTestDispatcher(consensus.NodeID("n1"), nil, nil, true, true)
	const callerID = CallerId(7)
	store.RegisterCert(pub, uint64(callerID))
	d.Registry().Install("setValue", func(args *RequestArgs) (bool, interface{}, error) {
		args.Tx.Put("k", []byte("v"))
		return true, "ok", nil
	}, Write, nil, nil, DoNotForward)

	reqMap := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      float64(11),
		"method":  "setValue",
	}
	reqBin, err := wirecodec.Encode(reqMap, wirecodec.FramingBinary)
	s.Require().NoError(err)
	badSig := tlsverify.Sign(otherPriv, reqBin) // signed with the wrong key

	top := map[string]interface{}{"sig": badSig, "req": reqMap, "md": tlsverify.HashAlg}
	raw, err := json.Marshal(top)
	s.Require().NoError(err)

	_, reply := d.Process(&RPCContext{CallerCert: pub}, raw)
	resp := decodeResponse(s.T(), reply)
	s.Equal(float64(11), resp["id"])
	errBody, ok := resp["error"].(map[string]interface{})
	s.Require().True(ok)
	s.Equal("INVALID_CLIENT_SIGNATURE", errBody["code"])

	_, ok = GetSignedRequest(store.Begin(), callerID)
	s.False(ok, "a rejected signature must not be recorded")
}

// Scenario 6: a commit conflict is retried transparently, invoking the
// handler twice but incrementing tx_count exactly once.
func (s *DispatchSuite) TestConflictRetryInvokesHandlerTwiceButCountsOnce() {
	d, store := newTestDispatcher(consensus.NodeID("n1"), nil, nil, false, false)

	seed := store.Begin()
	seed.Put("k", []byte("0"))
	s.Require().Equal(kvstore.CommitOK, seed.Commit())

	attempts := 0
	d.Registry().Install("bump", func(args *RequestArgs) (bool, interface{}, error) {
		attempts++
		v, _ := args.Tx.Get("k")
		if attempts == 1 {
			// mutate the key out from under this transaction's read set
			other := store.Begin()
			other.Put("k", []byte("mutated"))
			s.Require().Equal(kvstore.CommitOK, other.Commit())
		}
		args.Tx.Put("k", append(v, '!'))
		return true, string(v), nil
	}, Write, nil, nil, DoNotForward)

	req := []byte(`{"jsonrpc":"2.0","id":5,"method":"bump"}`)
	_, raw := d.Process(&RPCContext{}, req)

	resp := decodeResponse(s.T(), raw)
	s.Equal("mutated", resp["result"])
	s.Equal(2, attempts)

	snap, err := d.metrics.Snapshot()
	s.Require().NoError(err)
	s.Equal(float64(0), snap["test_frontend_tx_total"], "tx_total is only rolled up on tick")

	d.Tick(100)
	snap, err = d.metrics.Snapshot()
	s.Require().NoError(err)
	s.Equal(float64(1), snap["test_frontend_tx_total"], "tx_count must increment once per request, not per retry attempt")
}

// Scenario: a method that does not exist produces METHOD_NOT_FOUND.
func (s *DispatchSuite) TestUnknownMethod() {
	d, _ := newTestDispatcher(consensus.NodeID("n1"), nil, nil, false, false)
	req := []byte(`{"jsonrpc":"2.0","id":1,"method":"doesNotExist"}`)
	_, raw := d.Process(&RPCContext{}, req)

	resp := decodeResponse(s.T(), raw)
	errBody, ok := resp["error"].(map[string]interface{})
	s.Require().True(ok)
	s.Equal("METHOD_NOT_FOUND", errBody["code"])
}

// Scenario: an empty request is rejected before decoding is even attempted.
func (s *DispatchSuite) TestEmptyRequest() {
	d, _ := newTestDispatcher(consensus.NodeID("n1"), nil, nil, false, false)
	_, raw := d.Process(&RPCContext{}, nil)

	resp := decodeResponse(s.T(), raw)
	errBody, ok := resp["error"].(map[string]interface{})
	s.Require().True(ok)
	s.Equal("INVALID_REQUEST", errBody["code"])
}

// Scenario: an empty request is rejected before caller resolution, even
// when certs are configured and no certificate was presented — the empty
// check must run first, not after a caller-id lookup that would otherwise
// fail with a different error code.
func (s *DispatchSuite) TestEmptyRequestTakesPrecedenceOverCallerResolution() {
	d, _ := newTestDispatcher(consensus.NodeID("n1"), nil, nil, true, false)
	outcome, raw := d.Process(&RPCContext{}, nil)
	s.Equal(OutcomeResponded, outcome.Kind)

	resp := decodeResponse(s.T(), raw)
	errBody, ok := resp["error"].(map[string]interface{})
	s.Require().True(ok)
	s.Equal("INVALID_REQUEST", errBody["code"])
}
