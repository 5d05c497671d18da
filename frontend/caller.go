package frontend

import "github.com/txraft/rpcnode/kvstore"

// ResolveCaller maps a peer certificate to a stable caller id, per
// spec.md §4.2. certsConfigured distinguishes "no certs table attached to
// this node" (accept everyone as NoCertsCallerID) from "certs table
// attached but this certificate isn't in it" (InvalidCallerID).
func ResolveCaller(tx *kvstore.Tx, cert []byte, certsConfigured bool) (CallerId, bool) {
	if !certsConfigured {
		return NoCertsCallerID, true
	}
	if len(cert) == 0 {
		return InvalidCallerID, false
	}
	id, ok := tx.CertsView().Get(cert)
	if !ok {
		return InvalidCallerID, false
	}
	return CallerId(id), true
}
