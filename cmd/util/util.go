package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog"
	"github.com/ValentinKolb/hKV/lib/logging"
	"github.com/ValentinKolb/hKV/lib/store"
	"github.com/ValentinKolb/hKV/lib/store/lstore"
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
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// SetupEngineFlags adds the flags configuring the embedded engine to a command.
// Defaults mirror hybridlog.DefaultOptions.
func SetupEngineFlags(cmd *cobra.Command) {
	def := hybridlog.DefaultOptions()
	flags := cmd.PersistentFlags()

	flags.String("data-dir", "data", WrapString("Directory holding the segment and disk files of the database"))
	flags.String("log-level", "warn", WrapString("Level at which logs are written to stderr (debug, info, warn, error)"))
	flags.Duration("timeout", 5*def.IOTimeout, WrapString("Deadline of a single store operation (0 = none)"))
	flags.Int("index-buckets", def.IndexBuckets, WrapString("Number of hash index buckets (rounded up to a power of two)"))
	flags.Int("mutable-capacity", def.MutableCapacity>>10, WrapString("Size of one mutable region (in KB)"))
	flags.Int64("read-only-capacity", def.ReadOnlyCapacity>>10, WrapString("Sealed bytes kept in memory before they are flushed to disk (in KB)"))
	flags.Duration("flush-age", def.FlushAge, WrapString("Sealed segments older than this are flushed to disk (0 = only on memory pressure)"))
	flags.Int64("disk-segment-size", def.DiskSegmentSize>>10, WrapString("Maximum size of one disk file (in KB)"))
	flags.Int64("max-disk-bytes", 0, WrapString("Bound of the disk tier (in KB, 0 = unbounded)"))
	flags.Duration("io-timeout", def.IOTimeout, WrapString("Deadline of a single disk read"))
	flags.Duration("admit-timeout", def.AdmitTimeout, WrapString("How long a write waits for memory to be flushed before it fails (negative = fail right away)"))
	flags.Int("max-value-size", def.MaxValueSize>>10, WrapString("Largest accepted value (in KB)"))
	flags.Bool("promote-on-read", def.PromoteOnRead, WrapString("Copy records read from disk back into memory"))
	flags.Float64("compact-ratio", def.DiskCompactRatio, WrapString("Disk files with a lower live record ratio are compacted (0 = never)"))
}

// InitConfig loads .env files and makes every flag settable through HKV_<FLAG> environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("hkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper and applies the configured log level
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return logging.Init(viper.GetString("log-level"))
}

// GetEngineOptions reads the engine configuration from viper
func GetEngineOptions() (*hybridlog.Options, error) {
	opts := hybridlog.DefaultOptions()
	opts.Dir = viper.GetString("data-dir")
	opts.IndexBuckets = viper.GetInt("index-buckets")
	opts.MutableCapacity = viper.GetInt("mutable-capacity") << 10
	opts.ReadOnlyCapacity = viper.GetInt64("read-only-capacity") << 10
	opts.FlushAge = viper.GetDuration("flush-age")
	opts.DiskSegmentSize = viper.GetInt64("disk-segment-size") << 10
	opts.MaxDiskBytes = viper.GetInt64("max-disk-bytes") << 10
	opts.IOTimeout = viper.GetDuration("io-timeout")
	opts.AdmitTimeout = viper.GetDuration("admit-timeout")
	opts.MaxValueSize = viper.GetInt("max-value-size") << 10
	opts.PromoteOnRead = viper.GetBool("promote-on-read")
	opts.DiskCompactRatio = viper.GetFloat64("compact-ratio")

	if opts.Dir == "" {
		return nil, fmt.Errorf("data-dir must not be empty")
	}
	return opts, nil
}

// OpenStore opens the engine described by opts behind a local store. The returned database
// is the engine itself, e.g. for exporting its metrics.
func OpenStore(opts *hybridlog.Options) (store.IStore, db.KVDB, error) {
	var database db.KVDB
	s, err := lstore.NewLocalStore(func() (db.KVDB, error) {
		var err error
		database, err = hybridlog.NewHybridLog(opts)
		return database, err
	}, viper.GetDuration("timeout"))
	if err != nil {
		return nil, nil, err
	}
	return s, database, nil
}
