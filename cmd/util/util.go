package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/artdb/lib/alloc"
	"github.com/ValentinKolb/artdb/lib/art"
	"github.com/ValentinKolb/artdb/lib/db"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		wrappedLines = append(wrappedLines, line.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// SetupDBFlags adds the flags shared by all commands that open a database
func SetupDBFlags(cmd *cobra.Command) {
	key := "name"
	cmd.PersistentFlags().String(key, "artdb", WrapString("Name of the database (used as metric label and in logs)"))

	key = "allocator"
	cmd.PersistentFlags().String(key, "heap", WrapString("Allocator backing the tree nodes (heap, leak). The leak allocator guards every block and reports unreleased blocks on close"))

	key = "key-mode"
	cmd.PersistentFlags().String(key, "variable", WrapString("Value layout of the database (variable, fixed12)"))

	key = "max-retries"
	cmd.PersistentFlags().Uint64(key, 5, WrapString("How many times an optimistic write is retried after a conflict"))

	key = "retry-base"
	cmd.PersistentFlags().Duration(key, time.Millisecond, WrapString("First backoff of the fibonacci retry sequence"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig loads .env files and maps ARTDB_* environment variables to flags
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("artdb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// DBConfig is the database configuration read from flags and environment
type DBConfig struct {
	Name       string
	Allocator  string
	KeyMode    string
	MaxRetries uint64
	RetryBase  time.Duration
	LogLevel   string
}

// GetDBConfig reads the database configuration from viper
func GetDBConfig() *DBConfig {
	return &DBConfig{
		Name:       viper.GetString("name"),
		Allocator:  strings.ToLower(viper.GetString("allocator")),
		KeyMode:    strings.ToLower(viper.GetString("key-mode")),
		MaxRetries: viper.GetUint64("max-retries"),
		RetryBase:  viper.GetDuration("retry-base"),
		LogLevel:   viper.GetString("log-level"),
	}
}

// Options converts the configuration to database options
func (c *DBConfig) Options() (*db.Options, error) {
	opts := db.DefaultOptions()
	opts.Name = c.Name

	switch c.Allocator {
	case "heap":
		opts.Allocator = alloc.NewHeapAllocator()
	case "leak":
		opts.Allocator = alloc.NewLeakDetector(nil)
	default:
		return nil, fmt.Errorf("invalid allocator %s (expected heap or leak)", c.Allocator)
	}

	switch c.KeyMode {
	case "variable":
		opts.KeyMode = art.KeyModeVariable
	case "fixed12":
		opts.KeyMode = art.KeyModeFixed12
	default:
		return nil, fmt.Errorf("invalid key mode %s (expected variable or fixed12)", c.KeyMode)
	}

	return opts, nil
}

// RetryPolicy returns the retry policy for optimistic writes
func (c *DBConfig) RetryPolicy() db.RetryPolicy {
	p := db.DefaultRetryPolicy()
	p.MaxRetries = c.MaxRetries
	if c.RetryBase > 0 {
		p.Base = c.RetryBase
	}
	return p
}

// OpenDB initializes the loggers and opens an empty database
func (c *DBConfig) OpenDB() (*db.DB, error) {
	if err := InitLoggers(c.LogLevel); err != nil {
		return nil, err
	}
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	return db.Open(opts), nil
}

// String returns a human-readable representation of the configuration
func (c *DBConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Database Configuration")
	addField("Name", c.Name)
	addField("Allocator", c.Allocator)
	addField("Key Mode", c.KeyMode)
	addField("Log Level", c.LogLevel)

	addSection("Optimistic Writes")
	addField("Max Retries", fmt.Sprintf("%d", c.MaxRetries))
	addField("Retry Base", c.RetryBase.String())

	return sb.String()
}
