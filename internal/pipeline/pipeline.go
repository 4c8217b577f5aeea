// Package pipeline sequences transcription, summarization, extraction and
// submission lookup over the configured provider.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"call-assist-go/internal/config"
	"call-assist-go/internal/errs"
	"call-assist-go/internal/logger"
	"call-assist-go/internal/metrics"
	"call-assist-go/internal/provider"
	"call-assist-go/internal/types"
)

// Options are caller overrides; empty fields fall back to configuration.
type Options struct {
	Provider           string
	APIKey             string
	TranscriptionModel string
	ChatModel          string
}

// Input for RunAll. Audio is only transcribed when Transcript is blank.
type Input struct {
	Audio      *provider.Audio
	Transcript string
}

// Finder is the caller matcher used by RunLookup.
type Finder interface {
	Find(info types.ExtractedInfo) (types.SubmissionRecord, bool, error)
}

type Orchestrator struct {
	cfg       *config.Config
	providers map[string]provider.Provider
	finder    Finder
	log       *logger.Logger
}

func New(cfg *config.Config, providers map[string]provider.Provider, finder Finder, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		providers: providers,
		finder:    finder,
		log:       log.Component("pipeline"),
	}
}

// Provider resolves override > configured default against the built providers.
func (o *Orchestrator) Provider(override string) (provider.Provider, error) {
	name := o.cfg.ProviderName(override)
	p, ok := o.providers[name]
	if !ok {
		names := make([]string, 0, len(o.providers))
		for n := range o.providers {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, &errs.ConfigError{Key: "PROVIDER", Message: fmt.Sprintf("unsupported provider %q; use one of %v", name, names)}
	}
	return p, nil
}

// stage runs fn, converting panics to errors and tagging the result with the stage name.
func (o *Orchestrator) stage(name, providerName string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure: %v", r)
		}
		err = errs.Stage(name, err)
		metrics.ObserveStage(name, providerName, start, err)
		entry := o.log.WithField("stage", name).WithField("provider", providerName).
			WithField("duration_ms", time.Since(start).Milliseconds())
		if err != nil {
			entry.WithField("error", err.Error()).Warn("stage failed")
			return
		}
		entry.Info("stage finished")
	}()
	return fn()
}

func (o *Orchestrator) RunTranscribe(ctx context.Context, audio provider.Audio, opts Options) (string, error) {
	p, err := o.Provider(opts.Provider)
	if err != nil {
		return "", errs.Stage(errs.StageTranscribe, err)
	}
	var text string
	err = o.stage(errs.StageTranscribe, p.Name(), func() error {
		var err error
		text, err = p.Transcribe(ctx, audio, provider.Options{Model: opts.TranscriptionModel, APIKey: opts.APIKey})
		return err
	})
	return text, err
}

func (o *Orchestrator) RunSummarize(ctx context.Context, transcript string, opts Options) (string, error) {
	p, err := o.Provider(opts.Provider)
	if err != nil {
		return "", errs.Stage(errs.StageSummarize, err)
	}
	var summary string
	err = o.stage(errs.StageSummarize, p.Name(), func() error {
		var err error
		summary, err = p.Summarize(ctx, transcript, provider.Options{Model: opts.ChatModel, APIKey: opts.APIKey})
		return err
	})
	return summary, err
}

func (o *Orchestrator) RunExtract(ctx context.Context, transcript string, opts Options) (types.ExtractedInfo, error) {
	p, err := o.Provider(opts.Provider)
	if err != nil {
		return types.ExtractedInfo{}, errs.Stage(errs.StageExtract, err)
	}
	var info types.ExtractedInfo
	err = o.stage(errs.StageExtract, p.Name(), func() error {
		var err error
		info, err = p.Extract(ctx, transcript, provider.Options{Model: opts.ChatModel, APIKey: opts.APIKey})
		return err
	})
	return info, err
}

// RunLookup matches extracted fields against the submission store.
// A miss is reported as found=false with a nil error.
func (o *Orchestrator) RunLookup(ctx context.Context, info types.ExtractedInfo) (types.SubmissionRecord, bool, error) {
	var (
		rec   types.SubmissionRecord
		found bool
	)
	err := o.stage(errs.StageLookup, "store", func() error {
		var err error
		rec, found, err = o.finder.Find(info)
		return err
	})
	switch {
	case err != nil:
		metrics.Lookups.WithLabelValues("error").Inc()
	case found:
		metrics.Lookups.WithLabelValues("hit").Inc()
	default:
		metrics.Lookups.WithLabelValues("miss").Inc()
	}
	return rec, found, err
}

// RunAll transcribes (when no transcript was supplied), then summarizes and
// extracts from the same text. It does not perform the lookup. Failed stages
// are listed in Result.Errors and joined into the returned error; the result
// still carries whatever the other stages produced.
func (o *Orchestrator) RunAll(ctx context.Context, in Input, opts Options) (types.Result, error) {
	var (
		res       types.Result
		stageErrs []error
	)

	res.Transcript = in.Transcript
	if strings.TrimSpace(in.Transcript) == "" && in.Audio != nil {
		text, err := o.RunTranscribe(ctx, *in.Audio, opts)
		if err != nil {
			stageErrs = append(stageErrs, err)
		}
		res.Transcript = text
	}

	// summarize and extract only read the transcript, so they run side by side
	var (
		g                      errgroup.Group
		summaryErr, extractErr error
	)
	g.Go(func() error {
		res.Summary, summaryErr = o.RunSummarize(ctx, res.Transcript, opts)
		return nil
	})
	g.Go(func() error {
		res.Extracted, extractErr = o.RunExtract(ctx, res.Transcript, opts)
		return nil
	})
	_ = g.Wait()
	for _, err := range []error{summaryErr, extractErr} {
		if err != nil {
			stageErrs = append(stageErrs, err)
		}
	}

	res.Errors = Failures(stageErrs...)
	return res, errors.Join(stageErrs...)
}

// Process is RunAll followed by the lookup, as used by the telephony callback.
func (o *Orchestrator) Process(ctx context.Context, in Input, opts Options) (types.Result, error) {
	res, err := o.RunAll(ctx, in, opts)
	rec, found, lerr := o.RunLookup(ctx, res.Extracted)
	if lerr != nil {
		res.Errors = append(res.Errors, Failures(lerr)...)
		err = errors.Join(err, lerr)
	} else if found {
		res.MatchedSubmission = rec
	}
	return res, err
}

// Failures renders stage errors for the result payload.
func Failures(errList ...error) []types.StageFailure {
	var out []types.StageFailure
	for _, err := range errList {
		if err == nil {
			continue
		}
		var se *errs.StageError
		if errors.As(err, &se) {
			out = append(out, types.StageFailure{Stage: se.Stage, Message: se.Err.Error()})
			continue
		}
		out = append(out, types.StageFailure{Stage: "unknown", Message: err.Error()})
	}
	return out
}
