package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"spectrum-etl/internal/config"
	"spectrum-etl/internal/cpuload"
	"spectrum-etl/internal/logger"
	"spectrum-etl/internal/report"
	"spectrum-etl/internal/sink"
	"spectrum-etl/internal/source"
	"spectrum-etl/internal/stages"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "spectrum-etl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	logger.Configure(cfg.LogFormat, cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache := cpuload.NewCache()
	if cfg.CPUSampleMS > 0 {
		go cpuload.NewSampler(cache, time.Duration(cfg.CPUSampleMS)*time.Millisecond).Run(ctx)
	}

	src, err := openSource(cfg, cache)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	// Sinks outlive the signal context so the final flush can still run.
	sinkCtx, cancelSink := context.WithCancel(context.Background())
	defer cancelSink()
	rep := report.NewReport()
	w, err := sink.Build(sinkCtx, cfg, reportFlushes(rep))
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}

	var diags []stages.DiagnosticSink
	if cfg.DLQPath != "" {
		line := func() int { return 0 }
		if ls, ok := src.(*source.LineSource); ok {
			line = ls.Line
		}
		dlq, err := sink.OpenDLQ(cfg.DLQPath, line)
		if err != nil {
			w.Close()
			return fmt.Errorf("open dlq: %w", err)
		}
		defer dlq.Close()
		diags = append(diags, dlq)
	}

	p, err := newPipeline(cfg, w, cache, rep, diags...)
	if err != nil {
		w.Close()
		return err
	}

	logger.Info("pipeline started",
		zap.String("source", cfg.Source),
		zap.String("output_type", cfg.OutputType),
		zap.String("measurement", cfg.Measurement),
	)
	runErr := p.run(ctx, src)
	if errors.Is(runErr, context.Canceled) {
		logger.Info("shutdown requested")
		runErr = nil
	}

	if err := closeWithTimeout(w, time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second); err != nil {
		logger.Error("close sink", zap.Error(err))
		cancelSink()
	}

	rep.Finish()
	if cfg.ReportPath != "" {
		if err := rep.WriteJSON(cfg.ReportPath); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	summary := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.OutputType, "stdout") || cfg.OutputType == "" {
		summary = os.Stderr
	}
	fmt.Fprintf(summary,
		"Messages: %d, Skipped: %d, Malformed: %d, Schema Warnings: %d, Extracted: %d, Written OK: %d, Write Failed: %d\n",
		rep.Messages,
		rep.Skipped,
		rep.Malformed,
		rep.SchemaWarnings,
		rep.Extracted,
		rep.WrittenOK,
		rep.WriteFailed,
	)
	return runErr
}

// loadConfig layers defaults, config file, env and flags (highest precedence).
func loadConfig(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("spectrum-etl", flag.ContinueOnError)
	flagConfig := fs.String("config", "", "path to YAML or JSON config file")
	flagSource := fs.String("source", "", "message source: lines|homeassistant")
	flagInput := fs.String("input", "", "input path for the lines source (use '-' for stdin)")
	flagHAURL := fs.String("ha-url", "", "Home Assistant websocket URL")
	flagOutput := fs.String("output", "", "output path or URL (use '-' for stdout)")
	flagOutputType := fs.String("output-type", "", "sink type: stdout|file|rotate|http|kafka")
	flagReport := fs.String("report", "", "report output path")
	flagMeasurement := fs.String("measurement", "", "measurement name")
	flagSensor := fs.String("sensor-tag", "", "sensor tag value")
	flagLocation := fs.String("location-tag", "", "location tag value")
	flagTransforms := fs.String("transforms", "", "comma-separated transforms (field_filter, features, classify)")
	flagDropFields := fs.String("drop-fields", "", "comma-separated field keys to drop")
	flagMinRMS := fs.Float64("min-rms", 0, "drop readings with rms below this value")
	flagCPUSample := fs.Int("cpu-sample-ms", 0, "sample host CPU load every N ms into the cpu_load cache")
	flagBatch := fs.Int("batch-size", 0, "records per sink batch")
	flagRetries := fs.Int("sink-max-retries", 0, "retries per failed sink write (0 disables)")
	flagGzip := fs.Bool("http-gzip", false, "gzip request bodies for the http sink")
	flagDLQ := fs.String("dlq", "", "dead-letter file for malformed input")
	flagLogLevel := fs.String("log-level", "", "debug|info|warn|error")
	flagLogFormat := fs.String("log-format", "", "json|text")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()

	cfgPath := *flagConfig
	if cfgPath == "" {
		cfgPath = os.Getenv("SPECTRUM_CONFIG")
	}
	if cfgPath != "" {
		fileCfg, err := config.Load(cfgPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg = config.Merge(cfg, fileCfg)
	}

	cfg = config.FromEnv(cfg)

	override := config.Config{
		Source:         *flagSource,
		InputPath:      *flagInput,
		HAURL:          *flagHAURL,
		OutputType:     *flagOutputType,
		ReportPath:     *flagReport,
		Measurement:    *flagMeasurement,
		SensorTag:      *flagSensor,
		LocationTag:    *flagLocation,
		MinRMS:         *flagMinRMS,
		CPUSampleMS:    *flagCPUSample,
		BatchSize:      *flagBatch,
		DLQPath:        *flagDLQ,
		LogLevel:       *flagLogLevel,
		LogFormat:      *flagLogFormat,
		OutputPath:     *flagOutput,
		SinkMaxRetries: *flagRetries,
		HTTPGzip:       *flagGzip,
	}
	// Flags given on the command line win even when set to zero.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sink-max-retries":
			override.MarkSet("sink_max_retries")
		case "http-gzip":
			override.MarkSet("http_gzip")
		case "min-rms":
			override.MarkSet("min_rms")
		case "cpu-sample-ms":
			override.MarkSet("cpu_sample_ms")
		}
	})
	if *flagOutput == "-" {
		override.OutputPath = ""
		override.OutputType = "stdout"
	}
	if *flagTransforms != "" {
		override.Transforms = config.ParseList(*flagTransforms)
	}
	if *flagDropFields != "" {
		override.DropFields = config.ParseList(*flagDropFields)
	}
	cfg = config.Merge(cfg, override)

	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func openSource(cfg config.Config, cache *cpuload.Cache) (source.Source, error) {
	switch strings.ToLower(cfg.Source) {
	case "homeassistant", "ha":
		return source.NewHomeAssistant(source.HomeAssistantOptions{
			URL:            cfg.HAURL,
			Token:          cfg.HAToken,
			SpectrumEntity: cfg.SpectrumEntity,
			CPULoadEntity:  cfg.CPULoadEntity,
			Cache:          cache,
		}), nil
	default:
		in, err := openInput(cfg.InputPath)
		if err != nil {
			return nil, err
		}
		return source.NewLineSource(in), nil
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// closeWithTimeout bounds how long a final flush may block shutdown.
func closeWithTimeout(w sink.Writer, timeout time.Duration) error {
	if timeout <= 0 {
		return w.Close()
	}
	done := make(chan error, 1)
	go func() { done <- w.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("sink close timed out after %s", timeout)
	}
}
