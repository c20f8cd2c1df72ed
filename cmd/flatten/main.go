// Command flatten shreds a JSON/NDJSON input into one or more flat CSV
// tables, plus optional XLSX/SQLite/Parquet/Postgres/S3 outputs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lychee-technology/flattab"
	"github.com/lychee-technology/flattab/internal/engine"
	"github.com/lychee-technology/flattab/internal/parallel"
	"github.com/lychee-technology/flattab/internal/verify"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, inputPath, verifyFlag, err := parseFlags(args)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := newLogger(opts.LogLevel)
	defer logger.Sync()
	opts.Logger = logger

	var in *os.File
	if inputPath == "" || inputPath == "-" {
		in = os.Stdin
	} else {
		in, err = os.Open(inputPath)
		if err != nil {
			logger.Error("opening input", zap.Error(err))
			return 1
		}
		defer in.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("termination requested, finishing in-flight work")
		flattab.RequestTermination()
		cancel()
	}()
	defer signal.Stop(sigCh)

	if opts.Threads > 1 {
		res, runErr := parallel.Run(ctx, in, opts)
		if runErr != nil {
			return handleError(logger, runErr)
		}
		logger.Info("done", zap.Strings("tables", res.Tables))
	} else {
		res, runErr := engine.Run(ctx, in, opts)
		if runErr != nil {
			return handleError(logger, runErr)
		}
		logger.Info("done", zap.Strings("tables", res.Tables))
	}

	if verifyFlag {
		counts, verr := verify.RoundTrip(ctx, opts, opts.MainTableName)
		if verr != nil {
			return handleError(logger, verr)
		}
		for table, c := range counts {
			for parent, joined := range c.Children {
				logger.Info("verify",
					zap.String("table", table),
					zap.Int("rows", c.Rows),
					zap.String("joined_to", parent),
					zap.Int("joined_rows", joined),
				)
				if joined != c.Rows {
					logger.Warn("verify: orphaned link values detected",
						zap.String("table", table),
						zap.Int("rows", c.Rows),
						zap.Int("joined_rows", joined),
					)
				}
			}
		}
	}

	return 0
}

func handleError(logger *zap.Logger, err error) int {
	if flattab.IsCancelled(err) {
		logger.Warn("run cancelled")
		return 130
	}
	logger.Error("run failed", zap.Error(err))
	return 1
}

func parseFlags(args []string) (*flattab.Options, string, bool, error) {
	fs := flag.NewFlagSet("flatten", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: flatten [options] [<input.json>]")
		fmt.Fprintln(fs.Output(), "Reads from stdin when <input.json> is omitted or \"-\".")
		fmt.Fprintln(fs.Output())
		fs.PrintDefaults()
	}

	opts := flattab.DefaultOptions()

	outputDir := fs.String("output-dir", getenvDefault("FLATTERER_OUTPUT_DIR", ""), "directory to write outputs into (required)")
	csvOut := fs.Bool("csv", true, "write CSV tables")
	xlsx := fs.Bool("xlsx", false, "also write an XLSX workbook")
	sqlite := fs.Bool("sqlite", false, "also write a SQLite database")
	parquet := fs.Bool("parquet", false, "also write Parquet files")
	force := fs.Bool("force", false, "overwrite output-dir if it already exists")
	mainTable := fs.String("main-table-name", "main", "name of the root table")
	inputMode := fs.String("input-mode", "", "ndjson, json_stream, or empty for a single JSON value")
	inlineOneToOne := fs.Bool("inline-one-to-one", false, "inline one-to-one child arrays into the parent row")
	fieldsCSV := fs.String("fields-csv", "", "pre-seed the schema from a fields CSV (table_name,field_name[,field_type])")
	onlyFields := fs.Bool("only-fields", false, "ignore any field not present in fields-csv")
	tablesCSV := fs.String("tables-csv", "", "pre-seed the schema from a table_name CSV")
	onlyTables := fs.Bool("only-tables", false, "ignore any table not present in tables-csv")
	schema := fs.String("schema", "", "JSON Schema file driving final CSV column order")
	schemaTitles := fs.Bool("schema-titles", false, "use JSON Schema \"title\" values as CSV headers")
	tablePrefix := fs.String("table-prefix", "", "prefix every generated table name with this string")
	pathSeparator := fs.String("path-separator", "_", "separator joining nested path segments into field names")
	sqlitePath := fs.String("sqlite-path", "", "path to the SQLite database file (defaults to <output-dir>/sqlite.db)")
	preview := fs.Int("preview", 0, "stop after this many rows per table (0 disables)")
	idPrefix := fs.String("id-prefix", "", "prefix every _link value with this string")
	threads := fs.Int("threads", 1, "number of parallel shredding workers")
	postgresDSN := fs.String("postgres-dsn", getenvDefault("FLATTERER_POSTGRES_DSN", ""), "load finalized tables into this Postgres connection string")
	s3URI := fs.String("s3-output-uri", "", "upload output-dir to this s3:// URI after finalize")
	bufferSize := fs.Int("buffer-size", 1000, "bound on the streaming document channel")
	emitObj := fs.String("emit-obj", "", "comma-separated no-index paths (joined with path-separator) whose objects become rows of their own table instead of inlined columns")
	path := fs.String("path", "", "comma-separated path selecting the array of documents to shred")
	verifyFlag := fs.Bool("verify", false, "round-trip verify the produced CSVs against the merged schema after finalize")
	logLevel := fs.String("log-level", "", "zap log level (debug, info, warn, error); overrides FLATTERER_LOG")

	if err := fs.Parse(args); err != nil {
		return nil, "", false, err
	}

	opts.OutputDir = *outputDir
	opts.CSV = *csvOut
	opts.XLSX = *xlsx
	opts.SQLite = *sqlite
	opts.Parquet = *parquet
	opts.Force = *force
	opts.MainTableName = *mainTable
	opts.InputMode = flattab.InputMode(*inputMode)
	opts.InlineOneToOne = *inlineOneToOne
	opts.FieldsCSV = *fieldsCSV
	opts.OnlyFields = *onlyFields
	opts.TablesCSV = *tablesCSV
	opts.OnlyTables = *onlyTables
	opts.Schema = *schema
	opts.SchemaTitles = *schemaTitles
	opts.TablePrefix = *tablePrefix
	opts.PathSeparator = *pathSeparator
	opts.SQLitePath = *sqlitePath
	opts.Preview = *preview
	opts.IDPrefix = *idPrefix
	opts.Threads = *threads
	opts.PostgresDSN = *postgresDSN
	opts.S3OutputURI = *s3URI
	opts.BufferSize = *bufferSize
	opts.EmitObj = splitNonEmpty(*emitObj)
	opts.Path = splitNonEmpty(*path)
	opts.LogLevel = *logLevel

	if err := opts.Validate(); err != nil {
		return nil, "", false, err
	}

	var inputPath string
	if fs.NArg() > 0 {
		inputPath = fs.Arg(0)
	}
	return opts, inputPath, *verifyFlag, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// newLogger resolves the zap level from levelOverride (Options.LogLevel),
// falling back to the FLATTERER_LOG environment variable.
func newLogger(levelOverride string) *zap.Logger {
	level := levelOverride
	if level == "" {
		level = os.Getenv("FLATTERER_LOG")
	}
	if strings.EqualFold(level, "debug") {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	return flattab.NewLoggerForLevel(level)
}

func getenvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
