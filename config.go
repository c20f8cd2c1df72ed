package flattab

import "go.uber.org/zap"

// InputMode selects how the streaming bridge splits the input byte stream
// into top-level documents.
type InputMode string

const (
	// InputPlain expects a single JSON value (or an array selected via Path).
	InputPlain InputMode = ""
	// InputNDJSON treats each newline-terminated line as one document.
	InputNDJSON InputMode = "ndjson"
	// InputJSONStream parses concatenated JSON values back-to-back at the root.
	InputJSONStream InputMode = "json_stream"
)

// Options configures one engine run. Zero value is invalid; use
// DefaultOptions and override fields, then call Validate.
type Options struct {
	OutputDir string

	CSV     bool
	XLSX    bool
	SQLite  bool
	Parquet bool

	Force bool

	MainTableName string
	EmitObj       []string
	Path          []string

	InputMode InputMode

	InlineOneToOne bool

	FieldsCSV string
	OnlyFields bool
	TablesCSV  string
	OnlyTables bool

	Schema       string
	SchemaTitles bool

	TablePrefix   string
	PathSeparator string

	SQLitePath string

	Preview int

	IDPrefix string

	Threads int

	// PostgresDSN, when set, loads every finalized table into Postgres.
	PostgresDSN string

	// S3OutputURI, when set ("s3://bucket/prefix"), uploads output_dir
	// after finalize completes.
	S3OutputURI string

	// BufferSize bounds the streaming bridge's document channel. 0 uses
	// the default of 1000.
	BufferSize int

	// LogLevel overrides the FLATTERER_LOG-derived zap level ("debug",
	// "info", "warn", "error") when the embedding surface builds its own
	// Logger instead of relying on the CLI's environment lookup.
	LogLevel string

	Logger *zap.Logger
}

// DefaultOptions returns the engine's baseline configuration.
func DefaultOptions() *Options {
	return &Options{
		CSV:           true,
		MainTableName: "main",
		PathSeparator: "_",
		BufferSize:    1000,
		Logger:        zap.NewNop(),
	}
}

// Validate checks Options for internal consistency, returning a
// ConfigError for the first problem found.
func (o *Options) Validate() error {
	if o.OutputDir == "" {
		return ConfigErrorf("output_dir", "must not be empty")
	}
	if o.MainTableName == "" {
		return ConfigErrorf("main_table_name", "must not be empty")
	}
	if o.PathSeparator == "" {
		return ConfigErrorf("path_separator", "must not be empty")
	}
	if !o.CSV && !o.XLSX && !o.SQLite && !o.Parquet {
		return ConfigErrorf("csv", "at least one output encoder must be enabled")
	}
	if o.InputMode != InputPlain && o.InputMode != InputNDJSON && o.InputMode != InputJSONStream {
		return ConfigErrorf("ndjson/json_stream", "unknown input mode %q", o.InputMode)
	}
	if o.FieldsCSV == "" && o.OnlyFields {
		return ConfigErrorf("only_fields", "requires fields_csv to be set")
	}
	if o.TablesCSV == "" && o.OnlyTables {
		return ConfigErrorf("only_tables", "requires tables_csv to be set")
	}
	if o.SchemaTitles && o.Schema == "" {
		return ConfigErrorf("schema_titles", "requires schema to be set")
	}
	if o.Threads < 0 {
		return ConfigErrorf("threads", "must not be negative")
	}
	if o.Threads > 1 && o.XLSX {
		return ConfigErrorf("xlsx", "xlsx output is not supported in parallel runs")
	}
	if o.Preview < 0 {
		return ConfigErrorf("preview", "must not be negative")
	}
	if o.BufferSize < 0 {
		return ConfigErrorf("buffer_size", "must not be negative")
	}
	return nil
}

// BufferSizeOrDefault returns BufferSize, or 1000 if it is unset/invalid.
func (o *Options) BufferSizeOrDefault() int {
	if o.BufferSize <= 0 {
		return 1000
	}
	return o.BufferSize
}

// NewLoggerForLevel builds a zap.Logger for level ("debug", "info", "warn",
// "error"; unrecognized or empty falls back to a production logger at info).
// Shared by the CLI (FLATTERER_LOG) and any embedding surface that prefers
// setting Options.LogLevel directly instead of the environment variable.
func NewLoggerForLevel(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil && level != "" {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
