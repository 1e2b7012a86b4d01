package db

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// dbMetrics holds the counters of one DB. Every DB owns its own set, so
// several databases in one process do not share counters.
type dbMetrics struct {
	set          *metrics.Set
	commits      *metrics.Counter
	rollbacks    *metrics.Counter
	retries      *metrics.Counter
	writerWaits  *metrics.Counter
	transactions *metrics.Counter
}

func newDBMetrics(d *DB) *dbMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`%s{db=%q}`, metric, d.opts.Name)
	}

	m := &dbMetrics{
		set:          set,
		commits:      set.NewCounter(name("artdb_commits_total")),
		rollbacks:    set.NewCounter(name("artdb_rollbacks_total")),
		retries:      set.NewCounter(name("artdb_retries_total")),
		writerWaits:  set.NewCounter(name("artdb_writer_waits_total")),
		transactions: set.NewCounter(name("artdb_transactions_total")),
	}

	set.NewGauge(name("artdb_alloc_bytes_in_use"), func() float64 {
		return float64(d.alloc.GetStats().InUseBytes())
	})
	set.NewGauge(name("artdb_alloc_blocks_in_use"), func() float64 {
		return float64(d.alloc.GetStats().InUseCount())
	})
	set.NewGauge(name("artdb_keys"), func() float64 {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.committed == nil {
			return 0
		}
		return float64(d.committed.GetCount())
	})
	set.NewGauge(name("artdb_live_transactions"), func() float64 {
		return float64(d.live.Size())
	})
	return m
}

// WritePrometheus writes all metrics of the database in Prometheus text format
func (d *DB) WritePrometheus(w io.Writer) {
	d.metrics.set.WritePrometheus(w)
}
