package bench

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/artdb/cmd/util"
	"github.com/ValentinKolb/artdb/lib/db"
	"github.com/ValentinKolb/artdb/lib/dberr"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	// BenchCmd runs a mixed reader/writer load against an in-memory database
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Run a mixed read/write load",
		Long:    `Run concurrent readers and optimistic writers against an in-memory database for a fixed duration and report latency timers per operation.`,
		PreRunE: processBenchConfig,
		RunE:    run,
	}
	benchConf = benchConfig{}
)

type benchConfig struct {
	keys      int
	valueSize int
	readers   int
	writers   int
	batch     int
	scan      int
	duration  time.Duration
}

func init() {
	key := "keys"
	BenchCmd.Flags().Int(key, 100_000, util.WrapString("Number of pairs loaded before the run and the key space of the writers"))

	key = "value-size"
	BenchCmd.Flags().Int(key, 64, util.WrapString("Size of every value in bytes"))

	key = "readers"
	BenchCmd.Flags().Int(key, 8, util.WrapString("Number of reading goroutines"))

	key = "writers"
	BenchCmd.Flags().Int(key, 2, util.WrapString("Number of writing goroutines, each write is an optimistic transaction"))

	key = "batch"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Pairs written per transaction"))

	key = "scan"
	BenchCmd.Flags().Int(key, 100, util.WrapString("Keys visited by a range scan of a reader"))

	key = "duration"
	BenchCmd.Flags().Duration(key, 10*time.Second, util.WrapString("How long the load runs"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	benchConf = benchConfig{
		keys:      viper.GetInt("keys"),
		valueSize: viper.GetInt("value-size"),
		readers:   viper.GetInt("readers"),
		writers:   viper.GetInt("writers"),
		batch:     viper.GetInt("batch"),
		scan:      viper.GetInt("scan"),
		duration:  viper.GetDuration("duration"),
	}
	if benchConf.keys <= 0 || benchConf.batch <= 0 {
		return fmt.Errorf("keys and batch must be positive")
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	conf := util.GetDBConfig()
	fmt.Println("Load test for artdb")
	fmt.Println(conf.String())

	database, err := conf.OpenDB()
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Printf("loading %d pairs...\n", benchConf.keys)
	if err := load(database); err != nil {
		return err
	}

	registry := gometrics.NewRegistry()
	getTimer := gometrics.GetOrRegisterTimer("get", registry)
	scanTimer := gometrics.GetOrRegisterTimer("scan", registry)
	commitTimer := gometrics.GetOrRegisterTimer("write", registry)
	attempts := gometrics.GetOrRegisterCounter("write.attempts", registry)
	aborted := gometrics.GetOrRegisterCounter("write.aborted", registry)

	ctx, cancel := context.WithTimeout(context.Background(), benchConf.duration)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	fmt.Printf("running %d readers and %d writers for %s...\n", benchConf.readers, benchConf.writers, benchConf.duration)
	for i := 0; i < benchConf.readers; i++ {
		seed := int64(i)
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(seed))
			for ctx.Err() == nil {
				key := keyOf(rnd.Intn(benchConf.keys))
				err := db.View(database, func(tx *db.Transaction) error {
					if rnd.Intn(10) == 0 {
						scanTimer.Time(func() { scan(tx, key) })
						return nil
					}
					start := time.Now()
					tx.Get(key)
					getTimer.UpdateSince(start)
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	policy := conf.RetryPolicy()
	var written atomic.Int64
	for i := 0; i < benchConf.writers; i++ {
		seed := int64(1000 + i)
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(seed))
			value := make([]byte, benchConf.valueSize)
			for ctx.Err() == nil {
				start := time.Now()
				err := db.UpdateWithPolicy(ctx, database, policy, func(tx *db.Transaction) error {
					attempts.Inc(1)
					for j := 0; j < benchConf.batch; j++ {
						rnd.Read(value)
						if _, err := tx.Put(keyOf(rnd.Intn(benchConf.keys)), value); err != nil {
							return err
						}
					}
					return nil
				})
				switch {
				case err == nil:
					commitTimer.UpdateSince(start)
					written.Add(int64(benchConf.batch))
				case errors.Is(err, dberr.ErrTransactionRetry):
					aborted.Inc(1)
				case ctx.Err() != nil:
					return nil
				default:
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	fmt.Printf("\nwrote %d pairs\n", written.Load())
	printRegistry(registry)

	fmt.Println()
	fmt.Print("DATABASE METRICS\n")
	database.WritePrometheus(os.Stdout)
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func keyOf(i int) []byte {
	return []byte(fmt.Sprintf("bench-%010d", i))
}

// load fills the database in batches of writing transactions
func load(database *db.DB) error {
	const chunk = 10_000
	value := make([]byte, benchConf.valueSize)
	for from := 0; from < benchConf.keys; from += chunk {
		tx, err := database.StartWritingTransaction(context.Background())
		if err != nil {
			return err
		}
		tx.SetDescription("bench load")
		for i := from; i < min(from+chunk, benchConf.keys); i++ {
			if _, err := tx.Put(keyOf(i), value); err != nil {
				_ = tx.Close()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// scan visits up to benchConf.scan keys starting at key
func scan(tx *db.Transaction, key []byte) {
	c := tx.CreateCursor()
	defer c.Close()
	c.Find(key, len(key))
	for i := 0; i < benchConf.scan && c.FindNextKey(nil); i++ {
		c.GetValue(false)
	}
}

// printRegistry prints all timers and counters sorted by name
func printRegistry(registry gometrics.Registry) {
	var names []string
	registry.Each(func(name string, _ interface{}) {
		names = append(names, name)
	})
	sort.Strings(names)

	fmt.Println()
	fmt.Printf("%-16s %10s %12s %12s %12s %12s\n", "OPERATION", "COUNT", "OPS/SEC", "MEAN", "P50", "P99")
	fmt.Println(strings.Repeat("-", 80))
	for _, name := range names {
		switch m := registry.Get(name).(type) {
		case gometrics.Timer:
			s := m.Snapshot()
			ps := s.Percentiles([]float64{0.5, 0.99})
			fmt.Printf("%-16s %10d %12.0f %12s %12s %12s\n", name, s.Count(), s.RateMean(),
				time.Duration(s.Mean()), time.Duration(ps[0]), time.Duration(ps[1]))
		case gometrics.Counter:
			fmt.Printf("%-16s %10d\n", name, m.Count())
		}
	}
}
