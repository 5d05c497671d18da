package main

import (
	"encoding/gob"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/valyala/gorpc"

	"github.com/txraft/rpcnode/consensus"
	"github.com/txraft/rpcnode/forwarder"
	"github.com/txraft/rpcnode/frontend"
	"github.com/txraft/rpcnode/history"
	"github.com/txraft/rpcnode/internal/config"
	"github.com/txraft/rpcnode/kvstore"
)

func init() {
	gob.Register(clientReqMsg{})
	gob.Register(clientResMsg{})
	gorpc.SetErrorLogger(func(format string, args ...interface{}) {})
}

// clientReqMsg/clientResMsg are the client-facing gorpc envelope, carrying
// one opaque request/response buffer whose interpretation (text or binary
// framing) is entirely the front-end's concern.
type clientReqMsg struct {
	CallerCert []byte
	SessionID  string
	Actor      string
	Data       []byte
}

type clientResMsg struct {
	Data []byte
}

func main() {
	cmdServe := &cli.Command{
		Name:  "serve",
		Usage: "start a node's RPC front-end",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "c", Usage: "node config file path", Required: true},
		},
		Action: func(c *cli.Context) error {
			return serveFromFile(c.Path("c"))
		},
	}
	app := &cli.App{
		Name:     "rpcnode",
		Usage:    "replicated transactional service front-end",
		Commands: []*cli.Command{cmdServe},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// serveFromFile boots a node's full collaborator stack (store, replicator,
// history, forwarder, dispatcher) from a JSON config file and blocks
// serving client traffic, adapted from the teacher's
// cmdconfig.StartPeerFromFile.
func serveFromFile(filepath string) error {
	cfg, err := config.LoadFromFile(filepath)
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.Out = os.Stdout
	entry := logger.WithFields(logrus.Fields{"nodeID": cfg.SelfID})

	store := kvstore.New()
	replicator := consensus.New(cfg.SelfID)
	config.ApplyNodes(replicator, cfg.Nodes)

	// Bootstrap leadership: nothing implements real election (spec.md's
	// Non-goals exclude one), so a node becomes leader either because it
	// was told to (start_as_leader) or because it is the only node in the
	// cluster and has nobody to forward writes to anyway.
	if cfg.StartAsLeader || len(cfg.Nodes) <= 1 {
		replicator.BecomeLeader(1)
		entry.Infof("bootstrapped as leader (start_as_leader=%v, known nodes=%d)", cfg.StartAsLeader, len(cfg.Nodes))
	}

	hist := history.New(cfg.HistoryFilePath, cfg.HistoryFlushInterval, entry)
	if err := hist.Load(); err != nil {
		entry.Warnf("unable to load history ledger: %v", err)
	}
	defer hist.Stop()

	var fwd *forwarder.Forwarder
	if selfAddr, ok := cfg.Nodes[string(cfg.SelfID)]; ok && len(cfg.Nodes) > 1 {
		fnet := forwarder.NewTCPNetwork(cfg.ForwardDialTimeout)
		forwardListenAddr := selfAddr.Host + ":" + selfAddr.Port
		node, err := fnet.NewLocal(cfg.SelfID, forwardListenAddr, forwardListenAddr)
		if err != nil {
			return errors.Wrap(err, "unable to start forwarding transport")
		}
		for id, addr := range cfg.Nodes {
			if consensus.NodeID(id) == cfg.SelfID {
				continue
			}
			if err := fnet.AddRemote(consensus.NodeID(id), addr.Host+":"+addr.Port); err != nil {
				entry.Warnf("unable to register peer %s: %v", id, err)
			}
		}
		fwd = forwarder.New(node)
	}

	dispatcher := frontend.NewDispatcher(frontend.DispatcherConfig{
		SelfID:                 cfg.SelfID,
		Store:                  store,
		Replicator:             replicator,
		History:                hist,
		Forwarder:              fwd,
		CertsConfigured:        cfg.CertsConfigured,
		ClientSigsConfigured:   cfg.ClientSigsConfigured,
		RequestStoringDisabled: cfg.RequestStoringDisabled,
		VerifierCacheSize:      cfg.VerifierCacheSize,
		MetricsNamespace:       cfg.MetricsNamespace,
		SigMaxTx:               cfg.SigMaxTx,
		SigMaxMs:               cfg.SigMaxMs,
		Logger:                 entry,
	})

	go tickLoop(dispatcher, cfg.TickInterval)

	s := &gorpc.Server{
		Addr: cfg.ListenAddr,
		Handler: func(clientAddr string, request interface{}) interface{} {
			req := request.(clientReqMsg)
			ctx := &frontend.RPCContext{
				ClientSessionID: req.SessionID,
				Actor:           req.Actor,
				CallerCert:      req.CallerCert,
			}
			_, body := dispatcher.Process(ctx, req.Data)
			return clientResMsg{Data: body}
		},
	}
	if err := s.Start(); err != nil {
		return errors.Wrap(err, "unable to start client-facing listener")
	}
	entry.Infof("serving on %s", cfg.ListenAddr)

	select {}
}

func tickLoop(d *frontend.Dispatcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		d.Tick(interval.Milliseconds())
	}
}
