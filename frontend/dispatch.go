package frontend

import (
	"encoding/json"
	"sync"

	"github.com/go-openapi/spec"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/txraft/rpcnode/consensus"
	"github.com/txraft/rpcnode/forwarder"
	"github.com/txraft/rpcnode/history"
	"github.com/txraft/rpcnode/kvstore"
	"github.com/txraft/rpcnode/rpctypes"
	"github.com/txraft/rpcnode/tlsverify"
	"github.com/txraft/rpcnode/wirecodec"
)

// DefaultSigMaxTx and DefaultSigMaxMs are the timing-state defaults spec.md
// §3 names.
const (
	DefaultSigMaxTx = 1000
	DefaultSigMaxMs = 1000
)

// timingState is the signature-emission countdown spec.md §3 describes,
// owned exclusively by the dispatcher and the tick driver on the same
// logical thread.
type timingState struct {
	sigMaxTx int64
	sigMaxMs int64
	msToSig  int64
	txCount  int64
}

// Dispatcher is the front-end's core: registry lookup, leader/follower
// routing, transactional retry, and response formatting, per spec.md §4.5.
// It also owns the timing state the tick driver advances.
type Dispatcher struct {
	// guard is a non-reentrant lock enforcing spec.md §5's single-logical-
	// execution-context rule; acquired by every exported entry
	// point and never held across a call back into the Dispatcher.
	guard sync.Mutex

	registry   *Registry
	store      *kvstore.Store
	replicator *consensus.Replicator
	hist       *history.History
	fwd        *forwarder.Forwarder
	verifier   *SignatureVerifier
	metrics    *Metrics
	logger     *logrus.Entry

	selfID               consensus.NodeID
	certsConfigured      bool
	clientSigsConfigured bool

	timing timingState
}

// DispatcherConfig bundles Dispatcher's collaborators and options.
type DispatcherConfig struct {
	SelfID                 consensus.NodeID
	Store                  *kvstore.Store
	Replicator             *consensus.Replicator
	History                *history.History
	Forwarder              *forwarder.Forwarder // nil if this node has no forwarder attached
	CertsConfigured        bool
	ClientSigsConfigured   bool
	RequestStoringDisabled bool
	VerifierCacheSize      int
	MetricsNamespace       string
	SigMaxTx               int64 // 0 means DefaultSigMaxTx
	SigMaxMs               int64 // 0 means DefaultSigMaxMs
	Logger                 *logrus.Entry
}

// NewDispatcher wires up a Dispatcher and registers the seven built-in
// methods.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	sigMaxTx := cfg.SigMaxTx
	if sigMaxTx == 0 {
		sigMaxTx = DefaultSigMaxTx
	}
	sigMaxMs := cfg.SigMaxMs
	if sigMaxMs == 0 {
		sigMaxMs = DefaultSigMaxMs
	}
	d := &Dispatcher{
		registry:             NewRegistry(),
		store:                cfg.Store,
		replicator:           cfg.Replicator,
		hist:                 cfg.History,
		fwd:                  cfg.Forwarder,
		verifier:             NewSignatureVerifier(cfg.VerifierCacheSize, cfg.ClientSigsConfigured, cfg.RequestStoringDisabled),
		metrics:              NewMetrics(cfg.MetricsNamespace),
		logger:               logger,
		selfID:               cfg.SelfID,
		certsConfigured:      cfg.CertsConfigured,
		clientSigsConfigured: cfg.ClientSigsConfigured,
		timing: timingState{
			sigMaxTx: sigMaxTx,
			sigMaxMs: sigMaxMs,
			msToSig:  sigMaxMs,
		},
	}
	registerBuiltins(d)
	if cfg.Forwarder != nil {
		cfg.Forwarder.RegisterCallback(d.forwardCallback)
	}
	return d
}

// Registry exposes the method registry so callers can Install additional
// handlers before serving traffic.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Process is the client-facing entry point of spec.md §4.5: it detects
// framing, resolves caller identity, decodes and optionally verifies the
// envelope, and dispatches to process_json. It returns the Outcome
// alongside the raw reply bytes so callers can learn what happened without
// inspecting ctx afterward.
func (d *Dispatcher) Process(ctx *RPCContext, raw []byte) (Outcome, []byte) {
	d.guard.Lock()
	defer d.guard.Unlock()

	framing := wirecodec.Detect(raw)
	ctx.Framing = int(framing)

	if framing == wirecodec.FramingNone {
		body := d.encodeError(0, wirecodec.FramingText, rpctypes.InvalidRequest, "Empty request.")
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}

	tx := d.store.Begin()
	callerID, ok := ResolveCaller(tx, ctx.CallerCert, d.certsConfigured)
	if !ok {
		body := d.encodeError(0, framing, rpctypes.InvalidCallerID, "Could not resolve caller identity.")
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}

	generic, err := wirecodec.Decode(raw, framing)
	if err != nil {
		body := d.encodeError(0, framing, rpctypes.InvalidRequest, err.Error())
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}
	dr, err := unwrapEnvelope(generic)
	if err != nil {
		body := d.encodeError(0, framing, rpctypes.InvalidRequest, err.Error())
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}

	var signed SignedRequest
	if dr.Signed {
		ok, sr := d.verifier.Verify(tx, ctx.CallerCert, callerID, dr.ReqBin, dr.Sig, raw, false)
		if !ok {
			body := d.encodeError(dr.Envel.ID, framing, rpctypes.InvalidClientSignature, "Signature verification failed.")
			return Outcome{Kind: OutcomeResponded, Body: body}, body
		}
		signed = sr
	}

	reqID := kvstore.ReqID{CallerID: uint64(callerID), SessionID: ctx.ClientSessionID, Seq: dr.Envel.ID}
	tx.SetReqID(reqID)
	if d.hist != nil {
		d.hist.AddRequest(history.ReqID{CallerID: uint64(callerID), SessionID: ctx.ClientSessionID, Seq: dr.Envel.ID}, ctx.Actor, raw)
	}
	ctx.SeqNo = dr.Envel.ID

	env, err := d.processJSON(ctx, tx, callerID, dr.Envel, signed, true)
	if pf, isPending := err.(*pendingForward); isPending {
		ctx.IsPending = true
		reply, ferr := d.fwd.Forward(pf.target, raw)
		ctx.IsPending = false
		if ferr != nil {
			body := d.encodeError(dr.Envel.ID, framing, rpctypes.TxFailedToReplicate, ferr.Error())
			return Outcome{Kind: OutcomeResponded, Body: body}, body
		}
		return Outcome{Kind: OutcomeForwarded, Body: reply}, reply
	}
	if err != nil {
		body := d.encodeErrorFromErr(dr.Envel.ID, framing, err)
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}
	out, encErr := wirecodec.Encode(env, framing)
	if encErr != nil {
		body := d.encodeError(dr.Envel.ID, framing, rpctypes.InternalError, encErr.Error())
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}
	return Outcome{Kind: OutcomeResponded, Body: out}, out
}

// ProcessForwarded is the peer-to-peer entry point: ctx must already
// carry a ForwardInfo with a pre-resolved caller id. It always produces a
// response (Outcome.Kind is always OutcomeResponded); a forwarded request
// that ends up pending again is a logic error the caller should treat as
// INTERNAL_ERROR.
func (d *Dispatcher) ProcessForwarded(ctx *RPCContext, raw []byte) (Outcome, []byte) {
	d.guard.Lock()
	defer d.guard.Unlock()

	if ctx.Forwarded == nil {
		body := d.encodeError(0, wirecodec.FramingText, rpctypes.InternalError, "process_forwarded called without forward info.")
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}
	ctx.Forwarded.LeaderID = d.selfID

	framing := wirecodec.Detect(raw)
	ctx.Framing = int(framing)
	generic, err := wirecodec.Decode(raw, framing)
	if err != nil {
		body := d.encodeError(0, framing, rpctypes.InvalidRequest, err.Error())
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}
	dr, err := unwrapEnvelope(generic)
	if err != nil {
		body := d.encodeError(0, framing, rpctypes.InvalidRequest, err.Error())
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}

	// The forwarding follower already verified the signature; strip the
	// wrapper without re-checking it.
	var signed SignedRequest
	if dr.Signed {
		signed = SignedRequest{Req: dr.ReqBin, Sig: dr.Sig, RawReq: raw, MD: tlsverify.HashAlg}
	}

	tx := d.store.Begin()
	reqID := kvstore.ReqID{CallerID: uint64(ctx.Forwarded.CallerID), SessionID: ctx.ClientSessionID, Seq: dr.Envel.ID}
	tx.SetReqID(reqID)

	env, err := d.processJSON(ctx, tx, ctx.Forwarded.CallerID, dr.Envel, signed, true)
	if err != nil {
		body := d.encodeErrorFromErr(dr.Envel.ID, framing, err)
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}
	if env == nil {
		body := d.encodeError(dr.Envel.ID, framing, rpctypes.InternalError, "forwarding a forwarded request is a logic error.")
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}
	out, encErr := wirecodec.Encode(env, framing)
	if encErr != nil {
		body := d.encodeError(dr.Envel.ID, framing, rpctypes.InternalError, encErr.Error())
		return Outcome{Kind: OutcomeResponded, Body: body}, body
	}
	return Outcome{Kind: OutcomeResponded, Body: out}, out
}

// forwardCallback adapts ProcessForwarded to the forwarder.Callback shape
// for inbound forwarded requests received over the wire.
func (d *Dispatcher) forwardCallback(source consensus.NodeID, body []byte) ([]byte, error) {
	ctx := &RPCContext{Forwarded: &ForwardInfo{LeaderID: d.selfID}}
	_, reply := d.ProcessForwarded(ctx, body)
	return reply, nil
}

// processJSON is the routing and retry core of spec.md §4.5.
func (d *Dispatcher) processJSON(ctx *RPCContext, tx *kvstore.Tx, callerID CallerId, env *rpctypes.Envelope, signed SignedRequest, commit bool) (*rpctypes.Response, error) {
	if env.JSONRPC != rpctypes.RPCVersion {
		return nil, rpctypes.NewRPCError(rpctypes.InvalidRequest, "Unsupported jsonrpc version %q.", env.JSONRPC)
	}
	if env.Params != nil {
		switch env.Params.(type) {
		case map[string]interface{}, []interface{}:
		default:
			return nil, rpctypes.NewRPCError(rpctypes.InvalidRequest, "params must be an array or object.")
		}
	}

	handler, ok := d.registry.Lookup(env.Method)
	if !ok {
		return nil, rpctypes.NewRPCError(rpctypes.MethodNotFound, "Method %s not recognised.", env.Method)
	}
	if schema, ok := handler.ParamsSchema.(*spec.Schema); ok {
		if err := ValidateParams(schema, env.Params); err != nil {
			return nil, err
		}
	}

	isLeader := d.replicator == nil || d.replicator.IsLeader()
	if !isLeader {
		switch handler.RW {
		case Write:
			return d.forwardOrRedirect(ctx, env, handler)
		case MayWrite:
			if !env.IsReadOnly() {
				return d.forwardOrRedirect(ctx, env, handler)
			}
		}
	}

	args := &RequestArgs{Ctx: ctx, Tx: tx, CallerID: callerID, Method: env.Method, Params: env.Params, SignedReq: signed}

	// tx_count counts requests, not attempts: increment once here, before
	// the retry loop, so a request that ultimately fails still counts.
	d.timing.txCount++

	for {
		ok, value, err := handler.Func(args)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, rpctypes.NewRPCError(rpctypes.InvalidParams, "%v", value)
		}

		if !commit {
			return d.successResponse(env.ID, value, tx)
		}

		switch tx.Commit() {
		case kvstore.CommitOK:
			if d.replicator != nil {
				d.replicator.RecordCommit(tx.CommitVersion())
			}
			resp, rerr := d.successResponse(env.ID, value, tx)
			if rerr != nil {
				return nil, rerr
			}
			if d.replicator != nil && d.replicator.IsLeader() && d.timing.sigMaxTx > 0 {
				cv := tx.CommitVersion()
				if cv%d.timing.sigMaxTx == d.timing.sigMaxTx/2 {
					if d.hist != nil {
						d.hist.EmitSignature()
						d.metrics.RecordSignature()
					}
				}
			}
			return resp, nil
		case kvstore.CommitConflict:
			continue
		case kvstore.CommitNoReplicate:
			return nil, rpctypes.NewRPCError(rpctypes.TxFailedToReplicate, "Transaction failed to replicate.")
		}
	}
}

// successResponse builds the success envelope, attaching commit/term/
// global_commit metadata per spec.md §4.5 step 5.
func (d *Dispatcher) successResponse(id int64, value interface{}, tx *kvstore.Tx) (*rpctypes.Response, error) {
	commit := tx.CommitVersion()
	if commit == 0 {
		commit = tx.ReadVersion()
	}
	if commit == 0 && d.store != nil {
		commit = d.store.CurrentVersion()
	}
	resp := &rpctypes.Response{JSONRPC: rpctypes.RPCVersion, ID: id, Result: value, Commit: commit}
	if d.replicator != nil {
		term := d.replicator.GetTermAt(commit)
		resp.Term = &term
		gc := d.replicator.GetCommitIdx()
		resp.GlobalCommit = &gc
	}
	return resp, nil
}

// encodeError renders an INVALID_REQUEST-shaped (or any code's) error
// response using framing, falling back to text if encoding itself fails.
func (d *Dispatcher) encodeError(id int64, framing wirecodec.Framing, code rpctypes.ErrorCode, message string) []byte {
	ev := rpctypes.NewErrorValue(id, code, message)
	b, err := wirecodec.Encode(ev, framing)
	if err != nil {
		b, _ = json.Marshal(ev)
	}
	return b
}

// encodeErrorFromErr classifies err per spec.md §4.5 step 6 before
// rendering it: RPCError carries its own code, ParseError becomes
// PARSE_ERROR with a pointer-annotated message, anything else becomes
// INTERNAL_ERROR.
func (d *Dispatcher) encodeErrorFromErr(id int64, framing wirecodec.Framing, err error) []byte {
	var rpcErr *rpctypes.RPCError
	if errors.As(err, &rpcErr) {
		return d.encodeError(id, framing, rpcErr.Code, rpcErr.Message)
	}
	var parseErr *rpctypes.ParseError
	if errors.As(err, &parseErr) {
		return d.encodeError(id, framing, rpctypes.ParseErrorCode, parseErr.Error())
	}
	d.logger.Errorf("internal error dispatching request %d: %v", id, err)
	return d.encodeError(id, framing, rpctypes.InternalError, err.Error())
}
