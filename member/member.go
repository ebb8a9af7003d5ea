// Package member implements the member directory: the map from 20-byte
// member identifiers to the public keys that can sign as that member, and
// the missing-member request flow the decoder relies on when it cannot yet
// resolve a signer.
//
// A mid may resolve to more than one (public key, database id) tuple —
// collisions in the 20-byte SHA-1 space are tolerated; the decoder tells
// candidates apart by signature verification, not by directory lookup
// alone.
package member

import (
	"crypto/sha1"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// ID is a member identifier: the SHA-1 digest of a public key.
type ID [20]byte

// IDFromPublicKey computes the member id for a public key.
func IDFromPublicKey(pub [32]byte) ID {
	return ID(sha1.Sum(pub[:]))
}

// Record is one candidate key for a member id.
type Record struct {
	PublicKey  [32]byte
	DatabaseID int64
}

// MissingHandler is invoked at most once per outstanding mid while a lookup
// is unresolved; callers use it to emit a missing-member request to a peer.
type MissingHandler func(mid ID)

// Directory maps member ids to their candidate key records. It is shared
// across communities and keeps a read-mostly LRU cache in front of the
// authoritative map so that hot lookups (sync responder, decoder) don't pay
// map-plus-mutex cost on every packet.
type Directory struct {
	mu      sync.RWMutex
	records map[ID][]Record

	cache *lru.Cache[ID, []Record]

	onMissing MissingHandler

	pendingMu sync.Mutex
	pending   map[ID]bool
}

// NewDirectory creates an empty member directory with a cache of the given
// size (0 disables caching).
func NewDirectory(cacheSize int) *Directory {
	d := &Directory{
		records: make(map[ID][]Record),
		pending: make(map[ID]bool),
	}
	if cacheSize > 0 {
		c, err := lru.New[ID, []Record](cacheSize)
		if err != nil {
			logrus.WithError(err).Warn("member: failed to create LRU cache, falling back to uncached directory")
		} else {
			d.cache = c
		}
	}
	return d
}

// OnMissing registers the callback used to request an unresolved member id
// from the network.
func (d *Directory) OnMissing(h MissingHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMissing = h
}

// Register adds a (public key, database id) candidate for the member id
// derived from pub. It invalidates any cached entry for that mid.
func (d *Directory) Register(pub [32]byte, databaseID int64) ID {
	mid := IDFromPublicKey(pub)

	d.mu.Lock()
	d.records[mid] = append(d.records[mid], Record{PublicKey: pub, DatabaseID: databaseID})
	d.mu.Unlock()

	if d.cache != nil {
		d.cache.Remove(mid)
	}

	d.pendingMu.Lock()
	delete(d.pending, mid)
	d.pendingMu.Unlock()

	return mid
}

// Resolve returns the candidate records for a member id. When the mid is
// unknown it fires the missing-member callback (coalesced: at most one
// outstanding request per mid, per spec §7) and returns ok=false.
func (d *Directory) Resolve(mid ID) ([]Record, bool) {
	if d.cache != nil {
		if recs, ok := d.cache.Get(mid); ok {
			return recs, true
		}
	}

	d.mu.RLock()
	recs, ok := d.records[mid]
	d.mu.RUnlock()

	if !ok || len(recs) == 0 {
		d.requestMissing(mid)
		return nil, false
	}

	if d.cache != nil {
		d.cache.Add(mid, recs)
	}
	return recs, true
}

// requestMissing invokes the missing-member callback at most once while a
// lookup for mid remains unresolved.
func (d *Directory) requestMissing(mid ID) {
	d.pendingMu.Lock()
	if d.pending[mid] {
		d.pendingMu.Unlock()
		return
	}
	d.pending[mid] = true
	d.pendingMu.Unlock()

	d.mu.RLock()
	cb := d.onMissing
	d.mu.RUnlock()

	if cb != nil {
		cb(mid)
	}
}

// Invalidate drops any cached and pending state for mid, used on key
// rotation (spec §5: "read-mostly caching with invalidation on key
// rotation").
func (d *Directory) Invalidate(mid ID) {
	if d.cache != nil {
		d.cache.Remove(mid)
	}
	d.pendingMu.Lock()
	delete(d.pending, mid)
	d.pendingMu.Unlock()
}

// VerifyingKey returns the candidate public key among recs that a caller
// should try to verify a signature against, in registration order. Callers
// loop over the full slice themselves; this helper exists for the common
// single-candidate case.
func VerifyingKey(recs []Record) ([32]byte, bool) {
	if len(recs) == 0 {
		return [32]byte{}, false
	}
	return recs[0].PublicKey, true
}
