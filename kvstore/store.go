// Package kvstore is a small in-memory, optimistically-concurrent
// key-value store standing in for the out-of-scope replicated KV that
// spec.md treats as an external collaborator. It hands out Tx objects,
// detects at commit time when a key the transaction read has changed since
// it was read, and tracks a monotonic
// commit version, mirroring the request-deduplication style of the
// teacher's transaction state machine.
package kvstore

import (
	"encoding/hex"
	"sync"

	"github.com/pkg/errors"
)

// CommitResult is the outcome of attempting to commit a Tx.
type CommitResult int

const (
	// CommitOK means the transaction committed and its writes are visible.
	CommitOK CommitResult = iota
	// CommitConflict means a key this transaction read changed underneath
	// it; the caller should re-run the transaction body and retry.
	CommitConflict
	// CommitNoReplicate means the commit was accepted locally but the
	// consensus layer could not replicate it. Tx.Commit in this package
	// never returns it.
	CommitNoReplicate
)

// ReqID identifies a client request for idempotent re-application,
// mirroring the teacher's TSM (clientID, requestID) duplicate check.
type ReqID struct {
	CallerID  uint64
	SessionID string
	Seq       int64
}

// Store is the KV collaborator: a single mutex-guarded map of tables plus
// per-key version tracking for optimistic concurrency.
type Store struct {
	mu sync.Mutex

	version     int64
	data        map[string][]byte
	keyVersions map[string]int64

	certs      map[string]uint64 // hex(cert) -> caller id
	clientSigs map[uint64][]byte // caller id -> encoded SignedRequest

	seenReqs map[ReqID]int64 // req id -> commit version it produced
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		data:        make(map[string][]byte),
		keyVersions: make(map[string]int64),
		certs:       make(map[string]uint64),
		clientSigs:  make(map[uint64][]byte),
		seenReqs:    make(map[ReqID]int64),
	}
}

// CurrentVersion returns the store's current (last committed) version.
func (s *Store) CurrentVersion() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Begin starts a new transaction against the store's current snapshot.
func (s *Store) Begin() *Tx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Tx{
		store:       s,
		readVersion: s.version,
		reads:       make(map[string]int64),
		writes:      make(map[string][]byte),
	}
}

// RegisterCert associates a certificate with a caller id, simulating the
// administrative enrolment process spec.md treats as external.
func (s *Store) RegisterCert(cert []byte, callerID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[hex.EncodeToString(cert)] = callerID
}

// Tx is a single transaction's read/write view of the store. Its lifetime
// is strictly that of one dispatch, including all retry iterations, per
// spec.md's concurrency model.
type Tx struct {
	store       *Store
	readVersion int64
	reads       map[string]int64
	writes      map[string][]byte
	certWrite   *certWrite
	sigWrite    *sigWrite
	reqID       *ReqID
	committed   bool
	commitVer   int64
}

type certWrite struct {
	cert     []byte
	callerID uint64
}

type sigWrite struct {
	callerID uint64
	encoded  []byte
}

// SetReqID stamps this transaction with the request identity used for
// idempotent retry detection, mirroring Store::Tx::set_req_id.
func (tx *Tx) SetReqID(id ReqID) { tx.reqID = &id }

// Get reads a key from the app data table, recording it in the read set
// for conflict detection.
func (tx *Tx) Get(key string) ([]byte, bool) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if v, ok := tx.writes[key]; ok {
		return v, v != nil
	}
	v, ok := tx.store.data[key]
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = tx.store.keyVersions[key]
	}
	return v, ok
}

// Put writes a key in the app data table. The write is buffered until
// Commit.
func (tx *Tx) Put(key string, value []byte) {
	tx.writes[key] = value
}

// Delete removes a key from the app data table at commit time.
func (tx *Tx) Delete(key string) {
	tx.writes[key] = nil
}

// CertsView exposes the certificate-to-caller-id lookup, scoped to this
// transaction's snapshot.
func (tx *Tx) CertsView() CertsView { return CertsView{tx: tx} }

// CertsView looks up caller ids by certificate bytes.
type CertsView struct{ tx *Tx }

// Get returns the caller id registered for cert, if any.
func (v CertsView) Get(cert []byte) (uint64, bool) {
	v.tx.store.mu.Lock()
	defer v.tx.store.mu.Unlock()
	id, ok := v.tx.store.certs[hex.EncodeToString(cert)]
	return id, ok
}

// ClientSignaturesView exposes the per-caller latest-signed-request table.
func (tx *Tx) ClientSignaturesView() ClientSignaturesView {
	return ClientSignaturesView{tx: tx}
}

// ClientSignaturesView reads and stages writes of the latest SignedRequest
// per caller.
type ClientSignaturesView struct{ tx *Tx }

// Get returns the encoded SignedRequest last stored for callerID.
func (v ClientSignaturesView) Get(callerID uint64) ([]byte, bool) {
	v.tx.store.mu.Lock()
	defer v.tx.store.mu.Unlock()
	b, ok := v.tx.store.clientSigs[callerID]
	return b, ok
}

// Put stages an encoded SignedRequest to be written for callerID on commit.
func (v ClientSignaturesView) Put(callerID uint64, encoded []byte) {
	v.tx.sigWrite = &sigWrite{callerID: callerID, encoded: encoded}
}

// Commit attempts to apply this transaction's writes. It reports
// CommitConflict if any key in the read set changed since the
// transaction's snapshot was taken, leaving the transaction retryable: the
// caller re-runs its handler body and calls Commit again on the same Tx.
func (tx *Tx) Commit() CommitResult {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if tx.reqID != nil {
		if ver, seen := tx.store.seenReqs[*tx.reqID]; seen {
			tx.commitVer = ver
			return CommitOK
		}
	}

	for key, atVersion := range tx.reads {
		if tx.store.keyVersions[key] != atVersion {
			// Conflict: reset the read/write sets so the caller's retried
			// handler body observes a fresh snapshot.
			tx.readVersion = tx.store.version
			tx.reads = make(map[string]int64)
			tx.writes = make(map[string][]byte)
			tx.certWrite = nil
			tx.sigWrite = nil
			return CommitConflict
		}
	}

	tx.store.version++
	newVersion := tx.store.version

	for key, value := range tx.writes {
		if value == nil {
			delete(tx.store.data, key)
		} else {
			tx.store.data[key] = value
		}
		tx.store.keyVersions[key] = newVersion
	}
	if tx.certWrite != nil {
		tx.store.certs[hex.EncodeToString(tx.certWrite.cert)] = tx.certWrite.callerID
	}
	if tx.sigWrite != nil {
		tx.store.clientSigs[tx.sigWrite.callerID] = tx.sigWrite.encoded
	}
	if tx.reqID != nil {
		tx.store.seenReqs[*tx.reqID] = newVersion
	}

	tx.commitVer = newVersion
	tx.committed = true
	return CommitOK
}

// CommitVersion returns the version assigned by the most recent successful
// Commit, or zero if Commit has not yet succeeded.
func (tx *Tx) CommitVersion() int64 { return tx.commitVer }

// ReadVersion returns the version this transaction's snapshot was taken
// against.
func (tx *Tx) ReadVersion() int64 { return tx.readVersion }

// ErrNotCommitted is the error for an operation that requires a committed
// Tx. No function in this package returns it.
var ErrNotCommitted = errors.New("transaction has not committed")
