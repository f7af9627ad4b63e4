// Package feehistogram computes a mempool transaction's fee rate and
// summarizes a set of entries into the coarse fee-rate histogram the
// Query facade and thin-client protocol expose.
package feehistogram

import (
	"sort"
)

// BinWidth is the accumulated-vsize width of one histogram bucket, per
// spec.md §4.5.
const BinWidth = 50_000

// Entry is one fee-bearing transaction as seen by the histogram builder.
type Entry struct {
	FeePerVByte float64
	VSize       int64
}

// ComputeFee derives (fee, vsize, fee_per_vbyte) from prevout/output
// amount sums and a transaction's BIP141 weight. A coinbase transaction
// (no prevouts) always has fee 0.
func ComputeFee(prevoutSum, outputSum int64, weight uint32, isCoinbase bool) (fee int64, vsize int64, feePerVByte float64) {
	vsize = int64((weight + 3) / 4)
	if isCoinbase {
		return 0, vsize, 0
	}
	fee = prevoutSum - outputSum
	if vsize > 0 {
		feePerVByte = float64(fee) / float64(vsize)
	}
	return fee, vsize, feePerVByte
}

// Bucket is one histogram entry: the fee rate of the first transaction
// that fell into the bucket and the bucket's accumulated vsize.
type Bucket struct {
	FeeRate float64
	VSize   int64
}

// Build sorts entries by fee_per_vbyte descending and accumulates vsize
// into bins of width BinWidth vbytes, per spec.md §4.5: a bin closes
// whenever the rate changes, full stop — BinWidth is a nominal target,
// not a hard cap, so a run of entries sharing the rate that opened the
// current bin keeps accumulating into it past BinWidth rather than
// splitting mid-rate.
func Build(entries []Entry) []Bucket {
	if len(entries) == 0 {
		return nil
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].FeePerVByte > sorted[j].FeePerVByte
	})

	var buckets []Bucket
	cur := Bucket{FeeRate: sorted[0].FeePerVByte}
	for _, e := range sorted {
		if e.FeePerVByte != cur.FeeRate {
			buckets = append(buckets, cur)
			cur = Bucket{FeeRate: e.FeePerVByte}
		}
		cur.VSize += e.VSize
	}
	buckets = append(buckets, cur)
	return buckets
}
