package docbase

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Options configures a database opened with Open. The zero value is a
// usable, writable database rooted at the given directory with the
// teacher's own defaults for batching and flush cadence.
type Options struct {
	Logger  *slog.Logger
	Verbose bool

	// ReadOnly rejects every write operation with ErrReadOnly.
	ReadOnly bool

	// AppendBatchSize caps how many pending append jobs are folded into a
	// single append_file call. Zero uses the default (20, 40 in worker
	// mode per spec §4.5).
	AppendBatchSize int

	// WorkerMode doubles AppendBatchSize's default and is consulted by a
	// hosting RPC wrapper for its 60s timeout sweep; the core does not
	// otherwise change behavior based on it.
	WorkerMode bool

	// CounterFlushInterval is the debounce window between a counter
	// mutation and its flush to disk. Zero uses the default (30s).
	CounterFlushInterval time.Duration

	// ListingPageSize is the default page size used when a listing query
	// doesn't set Take explicitly.
	ListingPageSize int

	// EnableLog, when true, appends a human-readable line to
	// <name>.nosql-log (<name>.table-log for a table) after every append
	// batch. Updates, removes and maintenance operations are not logged.
	EnableLog bool

	// EnableBackup, when true, writes the pre-change line to
	// <name>.nosql-backup before every remove.
	EnableBackup bool

	// BackupUser tags backup lines (§6 grammar: "<user padded to 20>").
	BackupUser string
}

const (
	defaultAppendBatchSize  = 20
	workerAppendBatchSize   = 40
	defaultCounterFlush     = 30 * time.Second
	defaultListingPageSize  = 20
)

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = defaultLogger(o.Verbose)
	}
	if o.AppendBatchSize == 0 {
		if o.WorkerMode {
			o.AppendBatchSize = workerAppendBatchSize
		} else {
			o.AppendBatchSize = defaultAppendBatchSize
		}
	}
	if o.CounterFlushInterval == 0 {
		o.CounterFlushInterval = defaultCounterFlush
	}
	if o.ListingPageSize == 0 {
		o.ListingPageSize = defaultListingPageSize
	}
	if o.BackupUser == "" {
		o.BackupUser = "system"
	}
	return o
}

// fileOptions is the YAML-decodable subset of Options; Logger is runtime
// state and cannot be expressed in a config file.
type fileOptions struct {
	ReadOnly              bool   `yaml:"read_only"`
	Verbose               bool   `yaml:"verbose"`
	AppendBatchSize       int    `yaml:"append_batch_size"`
	WorkerMode            bool   `yaml:"worker_mode"`
	CounterFlushInterval  string `yaml:"counter_flush_interval"`
	ListingPageSize       int    `yaml:"listing_page_size"`
	EnableLog             bool   `yaml:"enable_log"`
	EnableBackup          bool   `yaml:"enable_backup"`
	BackupUser            string `yaml:"backup_user"`
}

// LoadOptionsFile decodes a YAML sidecar describing the Options a caller
// would otherwise build as a struct literal. It is optional: Open works
// perfectly well from a zero-value Options.
func LoadOptionsFile(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, ioErrf("read", path, err)
	}
	var fo fileOptions
	if err := yaml.Unmarshal(data, &fo); err != nil {
		return Options{}, ioErrf("parse", path, err)
	}
	opt := Options{
		ReadOnly:        fo.ReadOnly,
		Verbose:         fo.Verbose,
		AppendBatchSize: fo.AppendBatchSize,
		WorkerMode:      fo.WorkerMode,
		ListingPageSize: fo.ListingPageSize,
		EnableLog:       fo.EnableLog,
		EnableBackup:    fo.EnableBackup,
		BackupUser:      fo.BackupUser,
	}
	if fo.CounterFlushInterval != "" {
		d, err := time.ParseDuration(fo.CounterFlushInterval)
		if err != nil {
			return Options{}, ioErrf("parse", path, err)
		}
		opt.CounterFlushInterval = d
	}
	return opt, nil
}
