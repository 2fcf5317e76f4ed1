package main

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"spectrum-etl/internal/config"
	"spectrum-etl/internal/cpuload"
	"spectrum-etl/internal/logger"
	"spectrum-etl/internal/model"
	"spectrum-etl/internal/plugins"
	"spectrum-etl/internal/report"
	"spectrum-etl/internal/sink"
	"spectrum-etl/internal/source"
	"spectrum-etl/internal/stages"
)

// pipeline wires source messages through extraction and transforms into a sink.
type pipeline struct {
	cfg        config.Config
	extractor  *stages.Extractor
	diag       stages.DiagnosticSink
	transforms []plugins.Transform
	sink       sink.Writer
	rep        *report.Report
	// buffered sinks settle writes later and report them via reportFlushes.
	buffered bool
}

func newPipeline(cfg config.Config, w sink.Writer, cache *cpuload.Cache, rep *report.Report, diags ...stages.DiagnosticSink) (*pipeline, error) {
	transforms, err := plugins.BuildTransforms(cfg)
	if err != nil {
		return nil, err
	}

	sinks := stages.MultiSink{logger.Diagnostics(), rep}
	sinks = append(sinks, diags...)

	var cpu stages.CPULoadReader
	if cache != nil {
		cpu = cache.Reader()
	}

	_, buffered := w.(*sink.BatchedSink)
	return &pipeline{
		cfg:        cfg,
		extractor:  stages.NewExtractor(cfg, sinks, cpu),
		diag:       sinks,
		transforms: transforms,
		sink:       w,
		rep:        rep,
		buffered:   buffered,
	}, nil
}

// reportFlushes counts batched writes once they reach the sink or are
// given up on.
func reportFlushes(rep *report.Report) sink.BatchOption {
	return sink.WithFlushHook(func(r sink.FlushResult) {
		rep.AddWritten(r.Written)
		rep.AddWriteFailed(r.Failed)
		rep.AddWriteRetries(r.Retries)
	})
}

// runPipeline processes newline-delimited messages from r into the sink
// configured by cfg.
func runPipeline(ctx context.Context, r io.Reader, cfg config.Config, rep *report.Report) error {
	w, err := sink.Build(ctx, cfg, reportFlushes(rep))
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg, w, cpuload.NewCache(), rep)
	if err != nil {
		w.Close()
		return err
	}
	runErr := p.run(ctx, source.NewLineSource(io.NopCloser(r)))
	if err := w.Close(); err != nil && runErr == nil {
		runErr = err
	}
	rep.Finish()
	return runErr
}

// run consumes src until it is exhausted or ctx is done.
func (p *pipeline) run(ctx context.Context, src source.Source) error {
	for {
		msg, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.process(ctx, msg); err != nil {
			return err
		}
	}
}

// process handles one message. Only context errors are returned; per-record
// failures are counted and logged.
func (p *pipeline) process(ctx context.Context, msg model.Message) error {
	p.rep.Messages++

	if msg.Err != nil {
		p.rep.Skipped++
		p.diag.Report(stages.Diagnostic{Kind: stages.MalformedInput, Raw: msg.Payload, Err: msg.Err})
		return nil
	}

	rec := p.extractor.Extract(msg.Payload, msg.CPULoad)
	if rec == nil {
		p.rep.Skipped++
		return nil
	}
	p.rep.Extracted++

	out, drop, reason, err := plugins.Apply(p.transforms, *rec)
	if err != nil {
		p.rep.TransformFailed++
		logger.Warn("transform failed", zap.Error(err))
		return nil
	}
	if drop {
		p.rep.AddDropped(reason)
		logger.Debug("record dropped", zap.String("reason", reason))
		return nil
	}

	attempts, err := writeWithRetry(ctx, p.sink, out, p.cfg, p.rep)
	if p.buffered {
		if err != nil && ctx.Err() == nil {
			logger.Warn("batch flush failed", zap.Error(err))
		}
		return ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.rep.AddWriteFailed(1)
		logger.Error("write output failed", zap.Error(err), zap.Int("attempts", attempts))
		return nil
	}
	p.rep.AddWritten(1)
	return nil
}

// writeWithRetry writes record, retrying with backoff unless the sink
// already retries on its own. It returns the number of attempts made.
func writeWithRetry(ctx context.Context, w sink.Writer, record any, cfg config.Config, rep *report.Report) (int, error) {
	retries := cfg.SinkMaxRetries
	if sink.RetriesInternally(w) {
		retries = 0
	}
	backoff := sink.Backoff{
		Base:   time.Duration(cfg.SinkBackoffBaseMS) * time.Millisecond,
		Max:    time.Duration(cfg.SinkBackoffMaxMS) * time.Millisecond,
		Jitter: cfg.SinkBackoffJitter,
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		if attempt > 0 {
			rep.AddWriteRetries(1)
			if err := sink.SleepContext(ctx, backoff.Delay(attempt-1)); err != nil {
				return attempt, err
			}
		}
		if lastErr = w.Write(record); lastErr == nil {
			return attempt + 1, nil
		}
	}
	return retries + 1, lastErr
}
