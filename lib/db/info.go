package db

import (
	"time"

	"github.com/ValentinKolb/artdb/lib/alloc"
	"github.com/ValentinKolb/artdb/lib/art"
	"github.com/ValentinKolb/artdb/lib/db/util"
)

// SizeInfo summarizes the sampled sizes of keys or values
type SizeInfo struct {
	Samples      int64        `json:"samples"`
	Total        int64        `json:"total"` // bytes over all samples
	Average      int          `json:"average"`
	Median       int          `json:"median"`
	P99          int          `json:"p99"`
	Distribution []SizeBucket `json:"distribution"` // non-empty buckets only
}

// SizeBucket is the share of samples up to a size bound. UpTo is 0 for the
// bucket above the largest bound.
type SizeBucket struct {
	UpTo    int     `json:"up_to"`
	Percent float64 `json:"percent"`
}

// TransactionInfo describes one open transaction
type TransactionInfo struct {
	Number      uint64        `json:"number"`
	Generation  int64         `json:"generation"`
	Description string        `json:"description"`
	ReadOnly    bool          `json:"read_only"`
	Age         time.Duration `json:"age"`
}

// DatabaseInfo reports the state of a database. Size figures are estimated
// from a sample of the committed tree (see Options.InfoSampleSize).
type DatabaseInfo struct {
	Name           string            `json:"name"`
	KeyMode        string            `json:"key_mode"`
	Generation     int64             `json:"generation"`
	KeyCount       int64             `json:"key_count"`
	CommitUlong    uint64            `json:"commit_ulong"`
	Ulongs         []uint64          `json:"ulongs"`
	Keys           SizeInfo          `json:"keys"`
	Values         SizeInfo          `json:"values"`
	ValueStats     util.Stats        `json:"value_stats"`
	Allocator      alloc.Stats       `json:"allocator"`
	Writer         uint64            `json:"writer"` // number of the writing transaction (0 = none)
	WritersWaiting int               `json:"writers_waiting"`
	OldestWaiter   uint64            `json:"oldest_waiter"` // ticket at the head of the writer queue (0 = none)
	Transactions   []TransactionInfo `json:"transactions"`
}

// GetInfo returns information about the committed state of the database
//
// Thread-safety: This method is thread-safe. The tree is sampled on a snapshot,
// so writers are not blocked while it runs.
func (d *DB) GetInfo() DatabaseInfo {
	d.mu.Lock()
	snap := d.committed.Snapshot()
	waiting := d.waiters.Len()
	var oldest uint64
	if e, ok := d.waiters.Peek(); ok {
		oldest = e.Key
	}
	var writer uint64
	if d.writer != nil {
		writer = d.writer.number
	}
	d.mu.Unlock()
	defer snap.Close()

	info := DatabaseInfo{
		Name:           d.opts.Name,
		KeyMode:        snap.KeyMode().String(),
		Generation:     snap.TransactionID(),
		KeyCount:       snap.GetCount(),
		CommitUlong:    snap.CommitUlong(),
		Allocator:      d.alloc.GetStats(),
		Writer:         writer,
		WritersWaiting: waiting,
		OldestWaiter:   oldest,
	}
	for i := 0; i < snap.GetUlongCount(); i++ {
		info.Ulongs = append(info.Ulongs, snap.GetUlong(i))
	}

	info.Keys, info.Values, info.ValueStats = d.sampleSizes(snap)

	now := time.Now()
	d.live.Range(func(_ uint64, tx *Transaction) bool {
		info.Transactions = append(info.Transactions, TransactionInfo{
			Number:      tx.number,
			Generation:  tx.generation,
			Description: tx.GetDescription(),
			ReadOnly:    tx.readOnly,
			Age:         now.Sub(tx.created),
		})
		return true
	})
	return info
}

// sampleSizes walks at most InfoSampleSize pairs, evenly spread over the key
// space by jumping through key indexes
func (d *DB) sampleSizes(root *art.RootNode) (keys, values SizeInfo, valueStats util.Stats) {
	count := root.GetCount()
	if count == 0 {
		return
	}
	step := int64(1)
	if limit := int64(d.opts.InfoSampleSize); limit > 0 && count > limit {
		step = count / limit
	}

	keyHist, valueHist := util.NewSizeHistogram(), util.NewSizeHistogram()
	var valueSizes []float64

	c := root.CreateCursor()
	defer c.Close()
	for idx := int64(0); idx < count && c.SetKeyIndex(idx); idx += step {
		keyHist.AddSample(len(c.GetKey(false)))
		valueHist.AddSample(len(c.GetValue(false)))
		valueSizes = append(valueSizes, float64(len(c.GetValue(false))))
	}

	summarize := func(h *util.SizeHistogram) SizeInfo {
		info := SizeInfo{
			Samples: h.GetCount(),
			Total:   h.GetSum(),
			Average: h.AverageSize(),
			Median:  h.MedianEstimate(),
			P99:     h.GetPercentileEstimate(99),
		}
		bounds, percentages := h.SizeDistribution()
		for i, p := range percentages {
			if p == 0 {
				continue
			}
			b := SizeBucket{Percent: p}
			if i < len(bounds) {
				b.UpTo = bounds[i]
			}
			info.Distribution = append(info.Distribution, b)
		}
		return info
	}
	return summarize(keyHist), summarize(valueHist), util.NewStats(valueSizes)
}
