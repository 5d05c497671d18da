package frontend

import (
	"sort"

	"github.com/txraft/rpcnode/consensus"
	"github.com/txraft/rpcnode/rpctypes"
)

// registerBuiltins installs the seven methods spec.md §4.4 requires every
// front-end to carry from construction.
func registerBuiltins(d *Dispatcher) {
	d.registry.Install("getCommit", d.builtinGetCommit, Read, nil, nil, DoNotForward)
	d.registry.Install("getMetrics", d.builtinGetMetrics, Read, nil, nil, DoNotForward)
	d.registry.Install("mkSign", d.builtinMkSign, Write, nil, nil, DoNotForward)
	d.registry.Install("getLeaderInfo", d.builtinGetLeaderInfo, Read, nil, nil, DoNotForward)
	d.registry.Install("getNetworkInfo", d.builtinGetNetworkInfo, Read, nil, nil, DoNotForward)
	d.registry.Install("listMethods", d.builtinListMethods, Read, nil, nil, DoNotForward)
	d.registry.Install("getSchema", d.builtinGetSchema, Read, nil, nil, DoNotForward)
}

func (d *Dispatcher) builtinGetCommit(args *RequestArgs) (bool, interface{}, error) {
	commit, explicit := paramInt64(args.Params, "commit")
	if !explicit {
		commit = args.Tx.ReadVersion()
		if commit == 0 {
			commit = d.store.CurrentVersion()
		}
	}
	var term int64
	if d.replicator != nil {
		term = d.replicator.GetTermAt(commit)
	}
	return true, map[string]interface{}{"term": term, "commit": commit}, nil
}

func (d *Dispatcher) builtinGetMetrics(args *RequestArgs) (bool, interface{}, error) {
	snap, err := d.metrics.Snapshot()
	if err != nil {
		return false, nil, err
	}
	return true, snap, nil
}

func (d *Dispatcher) builtinMkSign(args *RequestArgs) (bool, interface{}, error) {
	if d.hist != nil {
		d.hist.EmitSignature()
		d.metrics.RecordSignature()
	}
	return true, true, nil
}

func (d *Dispatcher) builtinGetLeaderInfo(args *RequestArgs) (bool, interface{}, error) {
	leaderID, info, err := d.leaderAddr()
	if err != nil {
		return false, nil, err
	}
	return true, map[string]interface{}{"leader_id": leaderID, "host": info.Host, "port": info.Port}, nil
}

func (d *Dispatcher) leaderAddr() (consensus.NodeID, consensus.NodeInfo, error) {
	if d.replicator == nil {
		return "", consensus.NodeInfo{}, rpctypes.NewRPCError(rpctypes.TxLeaderUnknown, "Leader unknown.")
	}
	leaderID, known := d.replicator.Leader()
	if !known {
		return "", consensus.NodeInfo{}, rpctypes.NewRPCError(rpctypes.TxLeaderUnknown, "Leader unknown.")
	}
	info, ok := d.replicator.NodeAddr(leaderID)
	if !ok {
		return "", consensus.NodeInfo{}, rpctypes.NewRPCError(rpctypes.TxLeaderUnknown, "Leader unknown.")
	}
	return leaderID, info, nil
}

func (d *Dispatcher) builtinGetNetworkInfo(args *RequestArgs) (bool, interface{}, error) {
	var leaderID consensus.NodeID
	if d.replicator != nil {
		leaderID, _ = d.replicator.Leader()
	}

	type nodeOut struct {
		NodeID string `json:"node_id"`
		Host   string `json:"host"`
		Port   string `json:"port"`
	}
	var nodes []nodeOut
	if d.replicator != nil {
		for id, info := range d.replicator.Nodes() {
			if info.Status != "TRUSTED" {
				continue
			}
			nodes = append(nodes, nodeOut{NodeID: string(id), Host: info.Host, Port: info.Port})
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })

	return true, map[string]interface{}{"leader_id": leaderID, "nodes": nodes}, nil
}

func (d *Dispatcher) builtinListMethods(args *RequestArgs) (bool, interface{}, error) {
	return true, map[string]interface{}{"methods": d.registry.List()}, nil
}

func (d *Dispatcher) builtinGetSchema(args *RequestArgs) (bool, interface{}, error) {
	name, ok := paramString(args.Params, "method")
	if !ok {
		return false, nil, rpctypes.NewRPCError(rpctypes.InvalidParams, "getSchema requires a method name.")
	}
	params, result, err := d.registry.Schema(name)
	if err != nil {
		return false, nil, err
	}
	return true, map[string]interface{}{"params": params, "result": result}, nil
}

// paramInt64 reads an integer field from params, which may be a
// map[string]interface{} (object-style call) or a []interface{}
// (positional call, field 0), accepting JSON's float64 number decoding.
func paramInt64(params interface{}, key string) (int64, bool) {
	switch p := params.(type) {
	case map[string]interface{}:
		v, ok := p[key]
		if !ok {
			return 0, false
		}
		return toInt64(v)
	case []interface{}:
		if len(p) == 0 {
			return 0, false
		}
		return toInt64(p[0])
	default:
		return 0, false
	}
}

func paramString(params interface{}, key string) (string, bool) {
	switch p := params.(type) {
	case map[string]interface{}:
		v, ok := p[key]
		if !ok {
			return "", false
		}
		s, ok := v.(string)
		return s, ok
	case []interface{}:
		if len(p) == 0 {
			return "", false
		}
		s, ok := p[0].(string)
		return s, ok
	default:
		return "", false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
