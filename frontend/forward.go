package frontend

import (
	"github.com/txraft/rpcnode/consensus"
	"github.com/txraft/rpcnode/rpctypes"
)

// pendingForward is a sentinel error carrying the leader to forward to.
// processJSON returns it instead of a response when the request should be
// handed to the forwarder; Process unwraps it to actually perform the
// send. ProcessForwarded never receives it, because forwardOrRedirect does
// not forward a request that was already forwarded.
type pendingForward struct {
	target consensus.NodeID
}

func (p *pendingForward) Error() string { return "pending forward to " + string(p.target) }

// forwardOrRedirect implements spec.md §4.5's final paragraph: hand the
// request to the forwarder when one is attached and the handler permits
// it, otherwise redirect the caller to the known leader address.
func (d *Dispatcher) forwardOrRedirect(ctx *RPCContext, env *rpctypes.Envelope, handler Handler) (*rpctypes.Response, error) {
	alreadyForwarded := ctx.Forwarded != nil
	if d.replicator == nil {
		return nil, rpctypes.NewRPCError(rpctypes.TxNotLeader, "Not leader, leader unknown.")
	}
	leaderID, known := d.replicator.Leader()
	if d.fwd != nil && handler.Forwardable == CanForward && !alreadyForwarded && known {
		return nil, &pendingForward{target: leaderID}
	}
	if !known {
		return nil, rpctypes.NewRPCError(rpctypes.TxNotLeader, "Not leader, leader unknown.")
	}
	info, ok := d.replicator.NodeAddr(leaderID)
	if !ok {
		return nil, rpctypes.NewRPCError(rpctypes.TxNotLeader, "Not leader, leader unknown.")
	}
	return nil, rpctypes.NewRPCError(rpctypes.TxNotLeader, "%s:%s", info.Host, info.Port)
}
