package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"dicomunpack/pkg/batch"
	"dicomunpack/pkg/config"
	"dicomunpack/pkg/telemetry"
	"dicomunpack/pkg/visualization"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "1.0.0"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[0], os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit status.
// Files that cannot be decoded do not change the status; any other failure
// of the run does.
func run(name string, args []string, stdout, stderr io.Writer) int {
	var (
		fileFilter  string
		outputType  string
		showVersion bool
	)
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&fileFilter, "f", "dcm", "input file filter glob")
	flags.StringVar(&fileFilter, "fileFilter", "dcm", "input file filter glob")
	flags.StringVar(&outputType, "t", "dcm", "output type: dcm, or jpg/png to also export previews")
	flags.StringVar(&outputType, "outputType", "dcm", "output type: dcm, or jpg/png to also export previews")
	flags.BoolVar(&showVersion, "V", false, "print version and exit")
	flags.BoolVar(&showVersion, "version", false, "print version and exit")
	telemetryDB := flags.String("pftelDB", "", "SQLite database to record telemetry events to")
	configPath := flags.String("config", "dicomunpack.yaml", "YAML configuration file")
	writeConfig := flags.String("write-config", "", "Write the default configuration to this path and exit")
	verbose := flags.Bool("verbose", false, "Enable debug logging")

	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage of %s:\n%s [flags] <inputdir> <outputdir>\n", name, name)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		return exitUsage
	}

	if showVersion {
		fmt.Fprintf(stdout, "%s %s\n", name, version)
		return exitOK
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339, NoColor: stderr != os.Stderr}).
		With().Timestamp().Logger()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			logger.Error().Err(err).Msg("failed to write configuration")
			return exitError
		}
		fmt.Fprintf(stdout, "Default configuration written to %s\n", *writeConfig)
		return exitOK
	}

	if flags.NArg() != 2 {
		flags.Usage()
		return exitUsage
	}
	inputDir, outputDir := flags.Arg(0), flags.Arg(1)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		return exitError
	}

	// Flags given on the command line override the configuration file
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "f", "fileFilter":
			cfg.Input.FileFilter = fileFilter
		case "t", "outputType":
			cfg.Output.OutputType = outputType
		case "pftelDB":
			cfg.Telemetry.Database = *telemetryDB
		case "verbose":
			cfg.Output.Verbose = *verbose
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return exitUsage
	}

	level := zerolog.InfoLevel
	if cfg.Output.Verbose {
		level = zerolog.DebugLevel
	}
	logger = logger.Level(level)

	fmt.Fprintln(stdout, "================================")
	fmt.Fprintln(stdout, "DICOM MULTIFRAME UNPACKER")
	fmt.Fprintln(stdout, "Splits multi-frame DICOM files into one file per slice")
	fmt.Fprintln(stdout, "================================")

	params := &batch.Params{
		InputDir:       inputDir,
		OutputDir:      outputDir,
		FileFilter:     cfg.Input.FileFilter,
		SliceNameWidth: cfg.Output.SliceNameWidth,
		WriteManifest:  cfg.Output.WriteManifest,
		Logger:         &logger,
	}
	if cfg.Output.OutputType != "dcm" {
		params.Preview = &visualization.Options{
			Format:  cfg.Output.OutputType,
			Quality: cfg.Preview.Quality,
			MaxSize: cfg.Preview.MaxSize,
		}
	}

	if cfg.Telemetry.Database != "" {
		store, err := telemetry.Open(cfg.Telemetry.Database)
		if err != nil {
			logger.Error().Err(err).Msg("failed to open telemetry database")
			return exitError
		}
		defer store.Close()

		runID, err := store.StartRun(telemetry.RunInfo{Version: version, InputDir: inputDir, OutputDir: outputDir})
		if err != nil {
			logger.Error().Err(err).Msg("failed to start telemetry run")
			return exitError
		}
		logger.Debug().Int64("run", runID).Str("db", cfg.Telemetry.Database).Msg("recording telemetry")
		params.Recorder = store
	}

	processor, err := batch.NewProcessor(params)
	if err != nil {
		logger.Error().Err(err).Msg("invalid parameters")
		return exitError
	}

	startTime := time.Now()
	if err := processor.Process(); err != nil {
		logger.Error().Err(err).Msg("unpacking failed")
		return exitError
	}
	processingTime := time.Since(startTime)

	metrics := processor.GetMetrics()
	fmt.Fprintf(stdout, "\nUnpacking completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Fprintf(stdout, "Files matched:   %d\n", metrics.FilesMatched)
	fmt.Fprintf(stdout, "Files unpacked:  %d\n", metrics.FilesProcessed)
	fmt.Fprintf(stdout, "Files skipped:   %d\n", metrics.FilesSkipped)
	fmt.Fprintf(stdout, "Slices written:  %d\n", metrics.SlicesWritten)
	return exitOK
}
