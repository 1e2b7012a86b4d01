package data

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"github.com/ValentinKolb/artdb/cmd/util"
	"github.com/ValentinKolb/artdb/lib/db"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// GenCmd writes an export file filled with generated pairs
	GenCmd = &cobra.Command{
		Use:     "gen [file]",
		Short:   "Generate an export file with random pairs",
		Long:    `Generate an export file with random pairs. Keys are built from a prefix and a zero padded counter, values are random bytes. The pairs are written in one transaction and the committed state is exported in the BTDBEXP2 format.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return util.BindCommandFlags(cmd) },
		RunE:    runGen,
	}
)

func init() {
	key := "count"
	GenCmd.Flags().Int(key, 10_000, util.WrapString("Number of pairs to generate"))

	key = "prefix"
	GenCmd.Flags().String(key, "key-", util.WrapString("Prefix of every generated key"))

	key = "value-size"
	GenCmd.Flags().Int(key, 64, util.WrapString("Size of every value in bytes (must be 12 for the fixed12 key mode)"))

	key = "seed"
	GenCmd.Flags().Int64(key, 1, util.WrapString("Seed of the value generator"))

	key = "commit-ulong"
	GenCmd.Flags().Uint64(key, 0, util.WrapString("Commit ulong stored in the export trailer"))
}

func runGen(_ *cobra.Command, args []string) error {
	conf := util.GetDBConfig()
	database, err := conf.OpenDB()
	if err != nil {
		return err
	}
	defer database.Close()

	count := viper.GetInt("count")
	prefix := viper.GetString("prefix")
	valueSize := viper.GetInt("value-size")
	rnd := rand.New(rand.NewSource(viper.GetInt64("seed")))
	width := len(fmt.Sprint(count))

	err = db.UpdateWithPolicy(context.Background(), database, conf.RetryPolicy(), func(tx *db.Transaction) error {
		tx.SetDescription("gen")
		value := make([]byte, valueSize)
		for i := 0; i < count; i++ {
			rnd.Read(value)
			key := fmt.Sprintf("%s%0*d", prefix, width, i)
			if _, err := tx.Put([]byte(key), value); err != nil {
				return fmt.Errorf("storing %s: %w", key, err)
			}
		}
		return tx.SetCommitUlong(viper.GetUint64("commit-ulong"))
	})
	if err != nil {
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	if err := db.View(database, func(tx *db.Transaction) error { return db.Export(tx, f) }); err != nil {
		return fmt.Errorf("exporting to %s: %w", args[0], err)
	}
	if err := f.Sync(); err != nil {
		return err
	}

	fmt.Printf("wrote %d pairs to %s\n", count, args[0])
	return nil
}
