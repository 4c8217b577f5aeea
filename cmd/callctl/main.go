// Command callctl runs the call pipeline on a local recording or transcript
// and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"

	"call-assist-go/internal/config"
	"call-assist-go/internal/logger"
	"call-assist-go/internal/matcher"
	"call-assist-go/internal/pipeline"
	"call-assist-go/internal/provider"
	"call-assist-go/internal/submissions"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "callctl:", err)
		os.Exit(1)
	}
}

func run() error {
	audioPath := flag.String("audio", "", "path to a call recording (wav, mp3, m4a)")
	transcriptPath := flag.String("transcript", "", "path to a transcript text file; skips transcription")
	providerName := flag.String("provider", "", "provider override (openai, gemini)")
	model := flag.String("model", "", "chat model override")
	sttModel := flag.String("transcription-model", "", "transcription model override")
	lookup := flag.Bool("lookup", false, "match the caller against the submission store")
	flag.Parse()

	if (*audioPath == "") == (*transcriptPath == "") {
		flag.Usage()
		return errors.New("exactly one of -audio or -transcript is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// logs go to stderr so stdout stays valid JSON
	log := logger.NewWithOptions(logger.Options{Environment: cfg.Environment, Level: cfg.LogLevel, Output: os.Stderr})

	providers, err := provider.DefaultRegistry().BuildAll(cfg, log)
	if err != nil {
		return err
	}
	store := submissions.NewStore(cfg.SubmissionsPath, log)
	orch := pipeline.New(cfg, providers, matcher.New(store, log), log)

	var in pipeline.Input
	if *transcriptPath != "" {
		data, err := os.ReadFile(*transcriptPath)
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}
		in.Transcript = string(data)
	} else {
		data, err := os.ReadFile(*audioPath)
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
		in.Audio = &provider.Audio{
			Data:     data,
			MIMEType: mime.TypeByExtension(filepath.Ext(*audioPath)),
			Filename: filepath.Base(*audioPath),
		}
	}

	opts := pipeline.Options{Provider: *providerName, ChatModel: *model, TranscriptionModel: *sttModel}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runFn := orch.RunAll
	if *lookup {
		runFn = orch.Process
	}
	res, runErr := runFn(ctx, in, opts)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return runErr
}
