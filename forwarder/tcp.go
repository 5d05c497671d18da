package forwarder

import (
	"encoding/gob"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/gorpc"

	"github.com/txraft/rpcnode/consensus"
)

func init() {
	gob.Register(tcpReqMsg{})
	gob.Register(tcpResMsg{})
	// Silence gorpc's own logger; the node's logrus logger is
	// authoritative (see frontend's use of logrus).
	gorpc.SetErrorLogger(func(format string, args ...interface{}) {})
}

// TCPNetwork is a gorpc-backed cluster of TCPTransport nodes, one call
// away from the teacher's rpccore.TCPNetwork with NodeID/method narrowed to
// forwarding's single use case.
type TCPNetwork struct {
	mu          sync.RWMutex
	nodeAddrMap map[consensus.NodeID]string
	timeout     time.Duration
}

// NewTCPNetwork constructs an empty TCPNetwork with the given per-call
// timeout.
func NewTCPNetwork(timeout time.Duration) *TCPNetwork {
	return &TCPNetwork{nodeAddrMap: make(map[consensus.NodeID]string), timeout: timeout}
}

// AddRemote registers a peer's address without starting a local listener
// for it.
func (n *TCPNetwork) AddRemote(id consensus.NodeID, addr string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.nodeAddrMap[id]; ok {
		return errors.Errorf("node with id %v already registered", id)
	}
	n.nodeAddrMap[id] = addr
	return nil
}

// NewLocal starts a gorpc server on listenAddr for id and returns a
// TCPTransport that can send to (and receive from) the rest of the
// network.
func (n *TCPNetwork) NewLocal(id consensus.NodeID, remoteAddr, listenAddr string) (*TCPTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.nodeAddrMap[id]; ok {
		return nil, errors.Errorf("node with id %v already registered", id)
	}

	node := &TCPTransport{
		id:        id,
		network:   n,
		clientMap: make(map[consensus.NodeID]*gorpc.Client),
		cb: func(source consensus.NodeID, body []byte) ([]byte, error) {
			return nil, errors.New("no forwarded-request callback registered")
		},
	}

	server := &gorpc.Server{
		Addr: listenAddr,
		Handler: func(clientAddr string, request interface{}) interface{} {
			req := request.(tcpReqMsg)
			node.mu.RLock()
			cb := node.cb
			node.mu.RUnlock()
			data, err := cb(req.Source, req.Body)
			errStr := ""
			if err != nil {
				errStr = err.Error()
			}
			return &tcpResMsg{Body: data, Err: errStr}
		},
	}
	if err := server.Start(); err != nil {
		return nil, errors.WithStack(err)
	}
	node.server = server
	n.nodeAddrMap[id] = remoteAddr
	return node, nil
}

// Shutdown does nothing; each locally started listener is stopped by its
// own TCPTransport.Close.
func (n *TCPNetwork) Shutdown() {
	// Individual TCPTransport.Close calls handle listener teardown; this
	// hook exists for symmetry with the teacher's TCPNetwork.Shutdown and
	// future multi-node bookkeeping.
}

// TCPTransport is a node's view of the network: it can forward to any peer
// whose address it knows, and it dispatches inbound forwarded requests to
// a registered callback.
type TCPTransport struct {
	id        consensus.NodeID
	network   *TCPNetwork
	server    *gorpc.Server
	clientMap map[consensus.NodeID]*gorpc.Client
	cb        Callback
	mu        sync.RWMutex
}

// NodeID returns this node's id.
func (t *TCPTransport) NodeID() consensus.NodeID { return t.id }

// SendRawRequest forwards body to target over a lazily-created gorpc
// client connection.
func (t *TCPTransport) SendRawRequest(target consensus.NodeID, body []byte) ([]byte, error) {
	t.mu.RLock()
	client, ok := t.clientMap[target]
	t.mu.RUnlock()
	if !ok {
		t.mu.Lock()
		client, ok = t.clientMap[target]
		if !ok {
			t.network.mu.RLock()
			addr, known := t.network.nodeAddrMap[target]
			t.network.mu.RUnlock()
			if !known {
				t.mu.Unlock()
				return nil, errors.Errorf("unable to find target node: %v", target)
			}
			client = &gorpc.Client{Addr: addr, RequestTimeout: t.network.timeout}
			client.Start()
			t.clientMap[target] = client
		}
		t.mu.Unlock()
	}
	res, err := client.Call(&tcpReqMsg{Source: t.id, Body: body})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resMsg := res.(tcpResMsg)
	if resMsg.Err != "" {
		return nil, errors.New(resMsg.Err)
	}
	return resMsg.Body, nil
}

// RegisterCallback installs the handler invoked for inbound forwarded
// requests.
func (t *TCPTransport) RegisterCallback(cb Callback) {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()
}

// Close stops the local listener, if one was started.
func (t *TCPTransport) Close() {
	if t.server != nil {
		t.server.Stop()
	}
}

type tcpReqMsg struct {
	Source consensus.NodeID
	Body   []byte
}

type tcpResMsg struct {
	Body []byte
	Err  string
}
