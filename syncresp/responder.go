// Package syncresp answers introduction-request sync tuples with the set of
// stored messages a peer is missing (spec §4.6): a time range, a modulo/
// offset sample, and Bloom-filter suppression of messages the requester
// already has, honoring each meta-message's ordering and priority.
package syncresp

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/policy"
	"github.com/opd-ai/meshcore/store"
)

// Request is the sync tuple carried by an introduction-request (spec §6,
// §4.6): a global-time window, a modulo sample, and a Bloom filter of
// messages the requester claims to already hold.
type Request struct {
	TimeLow  uint64
	TimeHigh uint64 // 0 means unbounded
	Modulo   uint64 // must be >= 1
	Offset   uint64
	Bloom    *bloom.BloomFilter // nil means no suppression
}

// Responder serves sync tuples against a community's stored messages.
type Responder struct {
	store  *store.SQLStore
	logger *logrus.Entry
}

// New creates a Responder backed by s.
func New(s *store.SQLStore) *Responder {
	return &Responder{store: s, logger: logrus.WithField("component", "syncresp")}
}

// Respond answers req for comm: stored messages of every FullSync/LastSync
// meta-message the community advertises on the sync bus, filtered by the
// request's time range, modulo sample, and Bloom suppression, concatenated
// in descending-priority-then-declaration order without interleaving
// meta-messages (spec §4.6, P4, P5).
func (r *Responder) Respond(ctx context.Context, comm *community.Community, req Request) ([][]byte, error) {
	if req.Modulo < 1 {
		return nil, fmt.Errorf("syncresp: modulo must be >= 1, got %d", req.Modulo)
	}

	var out [][]byte
	for _, meta := range comm.OrderedMetas() {
		if meta.Combo.Dist != policy.DistFullSync && meta.Combo.Dist != policy.DistLastSync {
			continue
		}

		rows, err := r.store.FetchByGlobalTimeRange(ctx, comm.ID, meta.Name, req.TimeLow, req.TimeHigh)
		if err != nil {
			return nil, fmt.Errorf("syncresp: fetch %s: %w", meta.Name, err)
		}

		matched := rows[:0]
		for _, row := range rows {
			if (row.GlobalTime+req.Offset)%req.Modulo != 0 {
				continue
			}
			if req.Bloom != nil && req.Bloom.Test(row.Packet) {
				continue
			}
			matched = append(matched, row)
		}

		orderRows(meta.Ordering, matched)

		for _, row := range matched {
			out = append(out, row.Packet)
		}
	}

	return out, nil
}

func orderRows(ord policy.Ordering, rows []store.SyncRow) {
	switch ord {
	case policy.OrderDESC:
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].GlobalTime > rows[j].GlobalTime })
	case policy.OrderRandom:
		rand.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	case policy.OrderPriority, policy.OrderASC:
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].GlobalTime < rows[j].GlobalTime })
	}
}
