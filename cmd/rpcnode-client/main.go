// Command rpcnode-client is a small reference client: it signs (optionally)
// and sends one JSON-RPC request to a node and prints the reply, following
// the leader, the way the teacher's client package looked up and retried
// against the leader.
package main

import (
	"crypto/ed25519"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/valyala/gorpc"

	"github.com/txraft/rpcnode/tlsverify"
	"github.com/txraft/rpcnode/wirecodec"
)

func init() {
	gob.Register(clientReqMsg{})
	gob.Register(clientResMsg{})
	gorpc.SetErrorLogger(func(format string, args ...interface{}) {})
}

type clientReqMsg struct {
	CallerCert []byte
	SessionID  string
	Actor      string
	Data       []byte
}

type clientResMsg struct {
	Data []byte
}

const maxLeaderHops = 5

func main() {
	app := &cli.App{
		Name:  "rpcnode-client",
		Usage: "send one signed or unsigned JSON-RPC request to a node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Required: true, Usage: "node address, host:port"},
			&cli.StringFlag{Name: "method", Required: true},
			&cli.StringFlag{Name: "params", Usage: "JSON object or array, default none"},
			&cli.Int64Flag{Name: "id", Value: 1},
			&cli.StringFlag{Name: "signing-key", Usage: "hex-encoded ed25519 private key seed, signs the request if set"},
			&cli.StringFlag{Name: "session", Value: "cli"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func run(c *cli.Context) error {
	req, err := buildRequest(c)
	if err != nil {
		return err
	}

	addr := c.String("addr")
	for hop := 0; hop < maxLeaderHops; hop++ {
		reply, err := send(addr, req)
		if err != nil {
			return err
		}

		var v map[string]interface{}
		if err := json.Unmarshal(reply, &v); err != nil {
			fmt.Println(string(reply))
			return nil
		}

		redirect, isNotLeader := notLeaderTarget(v)
		if !isNotLeader {
			fmt.Println(string(reply))
			return nil
		}
		logrus.Infof("node at %s is not leader, retrying against %s", addr, redirect)
		addr = redirect
		time.Sleep(100 * time.Millisecond)
	}
	return errors.Errorf("gave up after %d leader hops", maxLeaderHops)
}

// notLeaderTarget reports whether v is a TX_NOT_LEADER error carrying a
// "host:port" message, the client-side half of the dispatcher's
// forward-or-redirect contract.
func notLeaderTarget(v map[string]interface{}) (string, bool) {
	errBody, ok := v["error"].(map[string]interface{})
	if !ok {
		return "", false
	}
	if errBody["code"] != "TX_NOT_LEADER" {
		return "", false
	}
	msg, _ := errBody["message"].(string)
	if !strings.Contains(msg, ":") {
		return "", false
	}
	return msg, true
}

func buildRequest(c *cli.Context) ([]byte, error) {
	envelope := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.Int64("id"),
		"method":  c.String("method"),
	}
	if raw := c.String("params"); raw != "" {
		var params interface{}
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, errors.Wrap(err, "unable to parse --params as JSON")
		}
		envelope["params"] = params
	}

	seed := c.String("signing-key")
	if seed == "" {
		return json.Marshal(envelope)
	}

	sk, err := privateKeyFromHexSeed(seed)
	if err != nil {
		return nil, err
	}
	reqBytes, err := wirecodec.Encode(envelope, wirecodec.FramingBinary)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sig := tlsverify.Sign(sk, reqBytes)
	return json.Marshal(map[string]interface{}{
		"sig": sig,
		"req": envelope,
		"md":  tlsverify.HashAlg,
	})
}

func privateKeyFromHexSeed(hexSeed string) (ed25519.PrivateKey, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, errors.New("signing-key must be a hex-encoded 32-byte ed25519 seed")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func send(addr string, data []byte) ([]byte, error) {
	client := &gorpc.Client{Addr: addr, RequestTimeout: 5 * time.Second}
	client.Start()
	defer client.Stop()

	res, err := client.Call(clientReqMsg{Data: data})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resMsg, ok := res.(clientResMsg)
	if !ok {
		return nil, errors.Errorf("unexpected reply type %T", res)
	}
	return resMsg.Data, nil
}
