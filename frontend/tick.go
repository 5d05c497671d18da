package frontend

import "github.com/txraft/rpcnode/internal/utils"

// Tick implements spec.md §4.6: rolls tx_count into the metrics set and
// zeroes it, then, if this node is leader, advances the signature
// countdown and asks the history to emit a signature when it elapses and
// there is an uncommitted gap. elapsedMs is the wall-clock time since the
// previous tick.
func (d *Dispatcher) Tick(elapsedMs int64) {
	d.guard.Lock()
	defer d.guard.Unlock()

	d.metrics.RollUp(d.timing.txCount)
	d.timing.txCount = 0

	if d.replicator == nil || !d.replicator.IsLeader() {
		return
	}

	d.timing.msToSig = utils.SaturatingSubInt64(d.timing.msToSig, elapsedMs)
	if d.timing.msToSig > 0 {
		return
	}
	d.timing.msToSig = d.timing.sigMaxMs

	if d.hist != nil && d.hist.CommitGap() > 0 {
		d.hist.EmitSignature()
		d.metrics.RecordSignature()
	}
}
