package forwarder

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/txraft/rpcnode/consensus"
)

// ChanNetwork is an in-process fake of TCPNetwork for dispatcher tests,
// adapted from the teacher's rpccore.ChanNetwork: same request/response
// shape, no sockets.
type ChanNetwork struct {
	mu       sync.RWMutex
	nodes    map[consensus.NodeID]chan *chanReq
	timeout  time.Duration
}

// NewChanNetwork constructs an empty ChanNetwork with the given per-call
// timeout.
func NewChanNetwork(timeout time.Duration) *ChanNetwork {
	return &ChanNetwork{nodes: make(map[consensus.NodeID]chan *chanReq), timeout: timeout}
}

// NewNode registers id and returns its Transport.
func (n *ChanNetwork) NewNode(id consensus.NodeID) (*ChanTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.nodes[id]; ok {
		return nil, errors.Errorf("node with id %v already registered", id)
	}
	node := &ChanTransport{
		id:      id,
		network: n,
		cb: func(source consensus.NodeID, body []byte) ([]byte, error) {
			return nil, errors.New("no forwarded-request callback registered")
		},
	}
	ch := make(chan *chanReq)
	n.nodes[id] = ch
	go node.serve(ch)
	return node, nil
}

// ChanTransport is the in-process Transport implementation.
type ChanTransport struct {
	id      consensus.NodeID
	network *ChanNetwork
	cb      Callback
	mu      sync.RWMutex
}

func (t *ChanTransport) NodeID() consensus.NodeID { return t.id }

func (t *ChanTransport) RegisterCallback(cb Callback) {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()
}

func (t *ChanTransport) SendRawRequest(target consensus.NodeID, body []byte) ([]byte, error) {
	t.network.mu.RLock()
	ch, ok := t.network.nodes[target]
	t.network.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unable to find target node: %v", target)
	}
	resCh := make(chan chanRes, 1)
	req := &chanReq{source: t.id, body: body, resCh: resCh}
	select {
	case ch <- req:
	case <-time.After(t.network.timeout):
		return nil, errors.New("request timeout")
	}
	select {
	case res := <-resCh:
		return res.body, res.err
	case <-time.After(t.network.timeout):
		return nil, errors.New("request timeout")
	}
}

func (t *ChanTransport) serve(ch chan *chanReq) {
	for req := range ch {
		t.mu.RLock()
		cb := t.cb
		t.mu.RUnlock()
		data, err := cb(req.source, req.body)
		req.resCh <- chanRes{body: data, err: err}
	}
}

type chanReq struct {
	source consensus.NodeID
	body   []byte
	resCh  chan chanRes
}

type chanRes struct {
	body []byte
	err  error
}
