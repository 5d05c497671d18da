// Package forwarder sends a serialized client request to another node and
// returns its serialized reply, the transport spec.md treats as an
// external collaborator. Node and Transport are adapted from the teacher's
// rpccore package (abstract node + TCP/channel implementations); here they
// carry whole request bodies for one purpose only: follower-to-leader
// write forwarding.
package forwarder

import "github.com/txraft/rpcnode/consensus"

// Callback handles an inbound forwarded request and returns the reply
// bytes (or an error) to send back.
type Callback func(source consensus.NodeID, body []byte) ([]byte, error)

// Transport is the abstract network a Forwarder rides on: send a raw
// request to a target node, and register the callback invoked for
// requests received from others.
type Transport interface {
	NodeID() consensus.NodeID
	SendRawRequest(target consensus.NodeID, body []byte) ([]byte, error)
	RegisterCallback(cb Callback)
}

// Forwarder is the front-end-facing collaborator: it forwards one
// serialized client request to target and returns the leader's reply.
type Forwarder struct {
	transport Transport
}

// New wraps a Transport as a Forwarder.
func New(t Transport) *Forwarder {
	return &Forwarder{transport: t}
}

// Forward sends body to target (expected to be the current leader) and
// returns its reply.
func (f *Forwarder) Forward(target consensus.NodeID, body []byte) ([]byte, error) {
	return f.transport.SendRawRequest(target, body)
}

// RegisterCallback wires up the handler invoked when this node receives a
// forwarded request from a peer, typically frontend.Dispatcher.ProcessForwarded.
func (f *Forwarder) RegisterCallback(cb Callback) {
	f.transport.RegisterCallback(cb)
}
