package data

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ValentinKolb/artdb/cmd/util"
	"github.com/ValentinKolb/artdb/lib/db"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// DumpCmd loads an export file and prints its contents
	DumpCmd = &cobra.Command{
		Use:     "dump [file]",
		Short:   "Print the contents of an export file",
		Long:    `Import an export file into an in-memory database and print information about it, the stored pairs (optionally restricted to a key prefix) and the database metrics.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return util.BindCommandFlags(cmd) },
		RunE:    runDump,
	}
)

func init() {
	key := "prefix"
	DumpCmd.Flags().String(key, "", util.WrapString("Only print keys with this prefix"))

	key = "limit"
	DumpCmd.Flags().Int(key, 100, util.WrapString("Maximum number of pairs to print (0 = only info, -1 = all)"))

	key = "skip"
	DumpCmd.Flags().Int64(key, 0, util.WrapString("Start printing at this index within the prefix"))

	key = "json"
	DumpCmd.Flags().Bool(key, false, util.WrapString("Print the database info as JSON"))

	key = "metrics"
	DumpCmd.Flags().Bool(key, false, util.WrapString("Print the metrics of the database in Prometheus format"))
}

func runDump(_ *cobra.Command, args []string) error {
	conf := util.GetDBConfig()
	database, err := conf.OpenDB()
	if err != nil {
		return err
	}
	defer database.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	// the stream can only be read once, so wait for the slot instead of retrying
	tx, err := database.StartWritingTransaction(context.Background())
	if err != nil {
		return err
	}
	tx.SetDescription("import " + args[0])
	if err := db.Import(tx, f); err != nil {
		_ = tx.Close()
		return fmt.Errorf("importing %s: %w", args[0], err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	info := database.GetInfo()
	if viper.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(info); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, formatInfo(info))
	}

	if limit := viper.GetInt("limit"); limit != 0 {
		prefix := []byte(viper.GetString("prefix"))
		skip := viper.GetInt64("skip")
		err := db.View(database, func(tx *db.Transaction) error {
			c := tx.CreateCursor()
			defer c.Close()

			fmt.Fprintf(out, "\nPAIRS (%d with prefix %q)\n", c.CountPrefix(prefix), prefix)
			if !c.FindKeyIndex(prefix, skip) {
				return nil
			}
			for printed := 0; limit < 0 || printed < limit; printed++ {
				fmt.Fprintf(out, "  %8d  %s = %s\n", c.GetKeyIndex(), printable(c.GetKey(false)), printable(c.GetValue(false)))
				if !c.FindNextKey(prefix) {
					break
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if viper.GetBool("metrics") {
		fmt.Fprintln(out)
		database.WritePrometheus(out)
	}
	return nil
}

// formatInfo renders the database info in the sectioned CLI style
func formatInfo(info db.DatabaseInfo) string {
	var sb strings.Builder
	addSection := func(title string) {
		sb.WriteString(fmt.Sprintf("\n%s\n", strings.ToUpper(title)))
	}
	addField := func(name string, value any) {
		sb.WriteString(fmt.Sprintf("  %-22s: %v\n", name, value))
	}

	addSection("Database")
	addField("Name", info.Name)
	addField("Key Mode", info.KeyMode)
	addField("Generation", info.Generation)
	addField("Keys", info.KeyCount)
	addField("Commit Ulong", info.CommitUlong)
	for i, v := range info.Ulongs {
		addField(fmt.Sprintf("Ulong %d", i), v)
	}

	addSection("Sizes (sampled)")
	addField("Samples", info.Keys.Samples)
	addField("Key avg/median/p99", fmt.Sprintf("%d / %d / %d", info.Keys.Average, info.Keys.Median, info.Keys.P99))
	addField("Value avg/median/p99", fmt.Sprintf("%d / %d / %d", info.Values.Average, info.Values.Median, info.Values.P99))
	addField("Value stddev", fmt.Sprintf("%.2f", info.ValueStats.StdDeviation))
	addField("Sampled bytes", fmt.Sprintf("%d keys / %d values", info.Keys.Total, info.Values.Total))
	for _, b := range info.Values.Distribution {
		bound := "larger"
		if b.UpTo > 0 {
			bound = fmt.Sprintf("<= %d", b.UpTo)
		}
		addField("Values "+bound, fmt.Sprintf("%.1f%%", b.Percent))
	}

	addSection("Allocator")
	addField("Blocks in use", info.Allocator.InUseCount())
	addField("Bytes in use", info.Allocator.InUseBytes())
	return sb.String()
}

// printable quotes binary data and passes text through
func printable(b []byte) string {
	if utf8.Valid(b) && !strings.ContainsFunc(string(b), func(r rune) bool { return r < 0x20 }) {
		return string(b)
	}
	return fmt.Sprintf("%q", b)
}
