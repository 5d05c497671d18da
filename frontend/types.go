// Package frontend is the RPC front-end: envelope parsing, caller
// resolution, signature verification, handler dispatch with leader/follower
// routing and conflict retry, and the periodic tick driver. It implements
// every numbered component in spec.md §4 except the wire codec, which is
// package wirecodec.
package frontend

import (
	"github.com/txraft/rpcnode/consensus"
	"github.com/txraft/rpcnode/kvstore"
)

// CallerId is the stable integer identifier assigned to a certificate by
// an external registration process.
type CallerId uint64

const (
	// InvalidCallerID means "unknown caller" — no certs entry matched.
	InvalidCallerID CallerId = 0
	// NoCertsCallerID means "no certs table configured, accept all".
	NoCertsCallerID CallerId = ^CallerId(0)
)

// SignedRequest is the four-field record spec.md §3 defines: the raw
// signed bytes, the signature, the original request bytes, and a hash
// algorithm tag. Two SignedRequests are equal iff all four fields match.
type SignedRequest struct {
	Req    []byte
	Sig    []byte
	RawReq []byte
	MD     string
}

// Equal reports field-by-field equality, per spec.md §3's invariant.
func (s SignedRequest) Equal(o SignedRequest) bool {
	return string(s.Req) == string(o.Req) &&
		string(s.Sig) == string(o.Sig) &&
		string(s.RawReq) == string(o.RawReq) &&
		s.MD == o.MD
}

// ReadWrite tags how a handler touches the KV store.
type ReadWrite int

const (
	Read ReadWrite = iota
	Write
	MayWrite
)

// Forwardable tags whether a handler may be forwarded to the leader by a
// follower that cannot service it locally.
type Forwardable int

const (
	CanForward Forwardable = iota
	DoNotForward
)

// ForwardInfo is populated on a context that represents a request already
// forwarded by another node.
type ForwardInfo struct {
	CallerID CallerId
	LeaderID consensus.NodeID
}

// RPCContext carries everything about one request that outlives the
// envelope itself: session identity, the detected framing, whether this
// is a forwarded request, and the mutable bits the dispatch pipeline
// fills in as it goes.
type RPCContext struct {
	ClientSessionID string
	Actor           string
	CallerCert      []byte
	Framing         int // a wirecodec.Framing value, stored as int; set by Process/ProcessForwarded once framing is detected
	Forwarded       *ForwardInfo
	SeqNo           int64
	IsPending       bool
}

// Outcome is the explicit result of Process / ProcessForwarded, resolving
// spec.md §9's "Pending-response model" REDESIGN FLAG: callers learn what
// happened from the returned value instead of having to inspect the
// context afterward. Because every forwarder transport this module ships
// is synchronous (Process blocks in Forwarder.Forward until the leader
// replies),
// there is no third "still pending" state to report by the time Process
// returns; RPCContext.IsPending is still set for the duration of the call,
// since spec.md's testable properties assert on it directly.
type Outcome struct {
	// Kind is one of OutcomeResponded, OutcomeForwarded.
	Kind OutcomeKind
	Body []byte
}

// OutcomeKind discriminates an Outcome.
type OutcomeKind int

const (
	// OutcomeResponded means Body is this node's own response (success or
	// error), produced without forwarding.
	OutcomeResponded OutcomeKind = iota
	// OutcomeForwarded means Body is the leader's reply to a request this
	// node forwarded on the caller's behalf.
	OutcomeForwarded
)

// RequestArgs is the handler-visible bundle: context, transaction, caller
// id, method name, params, and the signed-request record (zero value if
// unsigned).
type RequestArgs struct {
	Ctx       *RPCContext
	Tx        *kvstore.Tx
	CallerID  CallerId
	Method    string
	Params    interface{}
	SignedReq SignedRequest
}

// HandleFunc is a method implementation: given RequestArgs, it returns
// (true, result) on success or (false, errorPayload) to signal a
// handler-reported failure that should be wrapped verbatim in an error
// response. HandleFunc may also return an error directly (a ParseError,
// an *rpctypes.RPCError, or any other error) to signal the remaining
// exceptional bands in spec.md §7; ok/value is only consulted when err is
// nil.
type HandleFunc func(args *RequestArgs) (ok bool, value interface{}, err error)

// Handler is a registered method: its implementation plus the metadata the
// dispatcher and registry need.
type Handler struct {
	Func         HandleFunc
	RW           ReadWrite
	ParamsSchema interface{}
	ResultSchema interface{}
	Forwardable  Forwardable
}
