// Command train fits a classifier on a CIFAR-10 style binary dataset,
// writing per-epoch metrics and checkpoints and resuming from a checkpoint
// on request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/tsawler/go-trainer/checkpoints"
	"github.com/tsawler/go-trainer/device"
	"github.com/tsawler/go-trainer/learner"
	"github.com/tsawler/go-trainer/metrics"
	"github.com/tsawler/go-trainer/trainerr"
	"github.com/tsawler/go-trainer/training"
	"github.com/tsawler/go-trainer/vision/dataloader"
	"github.com/tsawler/go-trainer/vision/dataset"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Fatalf("training failed: %v", err)
	}
}

// parseFlags loads -config (when given) over the defaults, then applies
// every flag that was set explicitly on the command line.
func parseFlags(args []string, output io.Writer) (training.Config, error) {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(output)

	def := training.DefaultConfig()
	configPath := fs.String("config", "", "JSON config file; flags override its values")
	epochs := fs.Int("epochs", def.Epochs, "number of epochs to train")
	batchSize := fs.Int("batch-size", def.BatchSize, "samples per batch")
	lr := fs.Float64("lr", def.LearningRate, "base learning rate")
	dev := fs.String("device", def.Device, "cpu, cuda, gpu or auto")
	dataDir := fs.String("data", def.DataDir, "dataset root containing "+dataset.BatchesDir)
	outDir := fs.String("out", def.OutDir, "output directory for checkpoints and metrics")
	resume := fs.String("resume", def.ResumeFrom, "checkpoint to resume from")
	logEvery := fs.Int("log-every", def.LogEvery, "report progress every N batches (0 = never)")
	seed := fs.Int64("seed", def.Seed, "random seed")
	workers := fs.Int("workers", def.Workers, "batch assembly goroutines (0 = logical CPUs)")
	prefetch := fs.Int("prefetch", def.Prefetch, "batches assembled ahead of the learner")
	format := fs.String("checkpoint-format", def.CheckpointFormat, "binary or json")
	keep := fs.Int("keep", def.KeepCheckpoints, "checkpoints to keep (0 = all)")
	metricsDB := fs.String("metrics-db", def.MetricsDB, "SQLite file mirroring metrics.csv")
	scheduler := fs.String("scheduler", def.Scheduler, "constant, step, exponential or cosine")
	strict := fs.Bool("strict", def.StrictRecords, "reject dataset files with trailing partial records")
	bar := fs.Bool("progress-bar", def.ProgressBar, "draw a progress bar instead of log lines")
	hidden := fs.String("hidden", "", "comma separated hidden layer sizes (empty = softmax regression)")
	dropout := fs.Float64("dropout", def.Dropout, "dropout rate")
	activation := fs.String("activation", def.Activation, "relu, leaky_relu, sigmoid or tanh")
	validation := fs.Float64("validation-split", def.ValidationSplit, "fraction of the train split evaluated each epoch (0 = evaluate on the test split)")
	opt := fs.String("optimizer", def.Optimizer, "sgd, adam or rmsprop")
	momentum := fs.Float64("momentum", def.Momentum, "momentum for sgd and rmsprop")
	weightDecay := fs.Float64("weight-decay", def.WeightDecay, "L2 weight decay")
	plotURL := fs.String("plot-url", def.PlotURL, "plotting sidecar that receives the curves after the run")

	if err := fs.Parse(args); err != nil {
		return def, err
	}

	cfg := def
	if *configPath != "" {
		loaded, err := training.LoadConfig(*configPath)
		if err != nil {
			return def, err
		}
		cfg = loaded
	}

	var visitErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "epochs":
			cfg.Epochs = *epochs
		case "batch-size":
			cfg.BatchSize = *batchSize
		case "lr":
			cfg.LearningRate = *lr
		case "device":
			cfg.Device = *dev
		case "data":
			cfg.DataDir = *dataDir
		case "out":
			cfg.OutDir = *outDir
		case "resume":
			cfg.ResumeFrom = *resume
		case "log-every":
			cfg.LogEvery = *logEvery
		case "seed":
			cfg.Seed = *seed
		case "workers":
			cfg.Workers = *workers
		case "prefetch":
			cfg.Prefetch = *prefetch
		case "checkpoint-format":
			cfg.CheckpointFormat = *format
		case "keep":
			cfg.KeepCheckpoints = *keep
		case "metrics-db":
			cfg.MetricsDB = *metricsDB
		case "scheduler":
			cfg.Scheduler = *scheduler
		case "strict":
			cfg.StrictRecords = *strict
		case "progress-bar":
			cfg.ProgressBar = *bar
		case "hidden":
			sizes, err := parseSizes(*hidden)
			if err != nil {
				visitErr = err
			}
			cfg.Hidden = sizes
		case "dropout":
			cfg.Dropout = *dropout
		case "activation":
			cfg.Activation = *activation
		case "validation-split":
			cfg.ValidationSplit = *validation
		case "optimizer":
			cfg.Optimizer = *opt
		case "momentum":
			cfg.Momentum = *momentum
		case "weight-decay":
			cfg.WeightDecay = *weightDecay
		case "plot-url":
			cfg.PlotURL = *plotURL
		}
	})
	if visitErr != nil {
		return def, visitErr
	}
	return cfg, cfg.Validate()
}

func parseSizes(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var sizes []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid hidden layer size %q", part)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

func run(ctx context.Context, cfg training.Config, logger *log.Logger, progressOut io.Writer) (err error) {
	if err := cfg.Validate(); err != nil {
		return err
	}

	dev, err := device.Select(cfg.Device)
	if err != nil {
		return err
	}
	logger.Printf("device: %s", dev)

	opts := dataset.Options{Strict: cfg.StrictRecords}
	trainSet, err := dataset.Load(cfg.DataDir, dataset.Train, opts)
	if err != nil {
		return &trainerr.StageError{Stage: trainerr.StageDataset, Err: err}
	}
	testSet, err := dataset.Load(cfg.DataDir, dataset.Test, opts)
	if err != nil {
		return &trainerr.StageError{Stage: trainerr.StageDataset, Err: err}
	}
	for _, ds := range []*dataset.RecordDataset{trainSet, testSet} {
		logger.Printf("loaded %s", ds)
		logger.Printf("%s split read from %s", ds.Split(), strings.Join(ds.Sources(), ", "))
	}

	// Epochs evaluate on evalSet. With a validation split the test split is
	// scored once after the last epoch.
	fitSet, evalSet := trainSet, testSet
	if cfg.ValidationSplit > 0 {
		fitSet, evalSet, err = trainSet.HoldOut(cfg.ValidationSplit, rand.New(rand.NewSource(cfg.Seed)))
		if err != nil {
			return &trainerr.StageError{Stage: trainerr.StageDataset, Err: err}
		}
		logger.Printf("holding out %d of %d training samples for validation", evalSet.Len(), trainSet.Len())
	}

	workers := cfg.Workers
	if workers == 0 {
		workers = dev.Workers()
	}
	shape := trainSet.Geometry().Shape()
	newEvalLoader := func(ds *dataset.RecordDataset) (*dataloader.DataLoader, error) {
		return dataloader.NewDataLoader(ds, dataloader.Config{
			BatchSize:   cfg.BatchSize,
			SampleShape: shape,
			Workers:     workers,
			Prefetch:    cfg.Prefetch,
		})
	}
	trainLoader, err := dataloader.NewDataLoader(fitSet, dataloader.Config{
		BatchSize:   cfg.BatchSize,
		Shuffle:     true,
		Rand:        rand.New(rand.NewSource(cfg.Seed)),
		SampleShape: shape,
		Workers:     workers,
		Prefetch:    cfg.Prefetch,
	})
	if err != nil {
		return err
	}
	evalLoader, err := newEvalLoader(evalSet)
	if err != nil {
		return err
	}
	var testSource training.BatchSource
	if evalSet != testSet {
		if testSource, err = newEvalLoader(testSet); err != nil {
			return err
		}
	}

	clf, err := learner.New(learner.Config{
		SampleShape: shape,
		Classes:     trainSet.NumClasses(),
		Hidden:      cfg.Hidden,
		Dropout:     cfg.Dropout,
		Activation:  cfg.Activation,
		Optimizer:   cfg.OptimizerConfig(),
		Seed:        cfg.Seed,
	})
	if err != nil {
		return err
	}
	logger.Printf("%s", clf.Summary())

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	csvPath := filepath.Join(cfg.OutDir, "metrics.csv")
	csvLog, err := metrics.OpenCSV(csvPath)
	if err != nil {
		return &trainerr.StageError{Stage: trainerr.StageMetrics, Err: err}
	}
	var metricsLog metrics.Log = csvLog
	if cfg.MetricsDB != "" {
		db, err := metrics.OpenSQLite(cfg.MetricsDB)
		if err != nil {
			csvLog.Close()
			return &trainerr.StageError{Stage: trainerr.StageMetrics, Err: err}
		}
		metricsLog = metrics.Multi(csvLog, db)
	}
	defer func() {
		if cerr := metricsLog.Close(); cerr != nil && err == nil {
			err = &trainerr.StageError{Stage: trainerr.StageMetrics, Err: cerr}
		}
	}()

	format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
	if err != nil {
		return err
	}
	scheduler, err := training.ParseScheduler(cfg.Scheduler, cfg.Epochs)
	if err != nil {
		return err
	}

	progress := training.LogProgress(logger)
	reportEvery := cfg.LogEvery
	if cfg.ProgressBar {
		progress = training.BarProgress(progressOut)
		reportEvery = 1
	}

	var plots *training.PlottingService
	if cfg.PlotURL != "" {
		plotConfig := training.DefaultPlottingServiceConfig()
		plotConfig.BaseURL = cfg.PlotURL
		plots = training.NewPlottingService(plotConfig)
	}

	session := training.NewSession(training.SessionConfig{
		Epochs:       cfg.Epochs,
		LearningRate: cfg.LearningRate,
		Seed:         cfg.Seed,
		ResumeFrom:   cfg.ResumeFrom,
		Scheduler:    scheduler,
		Checkpoint: training.CheckpointConfig{
			SaveDirectory:  cfg.OutDir,
			MaxCheckpoints: cfg.KeepCheckpoints,
			Format:         format,
		},
		ReportEvery: reportEvery,
		OnProgress:  progress,
		ClassNames:  trainSet.ClassNames(),
		CurvesPath:  filepath.Join(cfg.OutDir, "curves.json"),
		Plots:       plots,
		Test:        testSource,
	}, clf, trainLoader, evalLoader, metricsLog, logger)

	if err := session.Run(ctx); err != nil {
		return err
	}
	logger.Printf("done: %d epochs, metrics in %s", cfg.Epochs, csvPath)
	return nil
}
