// Command docupload uploads documents in compressed chunks and follows the
// processing job until it finishes.
//
// Usage:
//
//	docupload [-watch] [-out result.json] <file or glob>...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/imbuddy/docupload/analytics"
	"github.com/imbuddy/docupload/chunk"
	"github.com/imbuddy/docupload/config"
	"github.com/imbuddy/docupload/poll"
	"github.com/imbuddy/docupload/result"
	"github.com/imbuddy/docupload/transport"
	"github.com/imbuddy/docupload/upload"
)

// errJobFailed is returned when the server reports the job as failed.
var errJobFailed = errors.New("job failed")

type options struct {
	watch bool
	out   string
	paths []string
}

func main() {
	logger := log.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], env.NewRepository(), logger); err != nil {
		logger.Errorf("%s", err)
		stop()
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("docupload", flag.ContinueOnError)
	fs.BoolVar(&opts.watch, "watch", false, "poll the job status until the job finishes")
	fs.StringVar(&opts.out, "out", "", "download the job result to this path once the job completes (implies -watch)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.paths = fs.Args()
	if len(opts.paths) == 0 {
		return options{}, fmt.Errorf("no files given")
	}
	if opts.out != "" {
		opts.watch = true
	}
	return opts, nil
}

func run(ctx context.Context, args []string, envRepo env.Repository, logger log.Logger) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(envRepo)
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	logger.EnableDebugLog(cfg.Verbose)
	cfg.Print(logger)

	sources, closeSources, err := openSources(newPathEvaluator(logger).evaluate(opts.paths), logger)
	if err != nil {
		return err
	}
	defer closeSources()

	compressor, err := chunk.NewCompressor(cfg.Compression, cfg.CompressionLevel)
	if err != nil {
		return err
	}
	if closer, ok := compressor.(io.Closer); ok {
		defer closer.Close() //nolint:errcheck
	}

	chunkTransport, err := newTransport(ctx, cfg, compressor, logger)
	if err != nil {
		return err
	}

	tracker := analytics.NewTracker(envRepo, analytics.NewLogTrackerFactory(logger))
	orchestrator, err := upload.New(chunkTransport, logger,
		upload.WithChunkSize(cfg.ChunkSize),
		upload.WithCompressor(compressor),
		upload.WithTracker(tracker),
		upload.WithObserver(progressLogger(logger)),
	)
	if err != nil {
		return err
	}

	logger.Println()
	logger.Infof("Uploading %d file(s)...", len(sources))
	jobID, err := orchestrator.UploadFiles(ctx, sources)
	if err != nil {
		return fmt.Errorf("upload of job %s failed: %w", jobID, err)
	}
	logger.Donef("Uploaded job: %s", jobID)

	if !opts.watch {
		return nil
	}

	status, err := watch(ctx, cfg, jobID, logger)
	if err != nil {
		return err
	}

	if opts.out == "" {
		return nil
	}
	if status.ResultURL == "" {
		logger.Warnf("Job %s did not provide a result URL, nothing to download", jobID)
		return nil
	}

	logger.Println()
	logger.Infof("Downloading result...")
	return result.NewDownloader(nil, logger).Download(ctx, status.ResultURL, opts.out)
}

func openSources(paths []string, logger log.Logger) ([]chunk.Source, func(), error) {
	var files []*chunk.FileSource
	closeAll := func() {
		for _, f := range files {
			if err := f.Close(); err != nil {
				logger.Warnf("Failed to close %s: %s", f.Name(), err)
			}
		}
	}

	if len(paths) == 0 {
		return nil, closeAll, fmt.Errorf("no files to upload")
	}

	var sources []chunk.Source
	for _, path := range paths {
		f, err := chunk.OpenFile(path)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		logger.Printf("- %s (%s)", path, units.HumanSizeWithPrecision(float64(f.Size()), 3))
		files = append(files, f)
		sources = append(sources, f)
	}

	return sources, closeAll, nil
}

func newTransport(ctx context.Context, cfg config.Config, compressor chunk.Compressor, logger log.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportS3:
		return transport.NewS3Transport(ctx, transport.S3Params{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     string(cfg.S3.AccessKeyID),
			SecretAccessKey: string(cfg.S3.SecretAccessKey),
			Extension:       compressor.Extension(),
			ContentEncoding: compressor.Name(),
		}, logger)
	default:
		return transport.NewHTTPTransport(nil, cfg.APIURL, logger), nil
	}
}

func watch(ctx context.Context, cfg config.Config, jobID string, logger log.Logger) (poll.JobStatus, error) {
	pollConfig := poll.DefaultConfig()
	pollConfig.Interval = cfg.PollInterval
	poller := poll.NewPoller(poll.NewClient(nil, cfg.APIURL, logger), logger, poll.WithConfig(pollConfig))

	logger.Println()
	logger.Infof("Waiting for job %s...", jobID)
	status, err := poller.Watch(ctx, jobID)
	if err != nil {
		return poll.JobStatus{}, fmt.Errorf("failed to follow job %s: %w", jobID, err)
	}

	if status.Status == poll.JobError {
		if status.Message != "" {
			return status, fmt.Errorf("%w: %s", errJobFailed, status.Message)
		}
		return status, errJobFailed
	}

	logger.Donef("Job %s completed", jobID)
	return status, nil
}

func progressLogger(logger log.Logger) upload.Observer {
	var lastFile string
	var lastChunk int
	return func(state upload.JobState) {
		p := state.Progress
		if state.Status != upload.StatusPending || p.CurrentChunk == 0 {
			return
		}
		// file completion replays the last chunk's progress
		if p.CurrentFile == lastFile && p.CurrentChunk == lastChunk {
			return
		}
		lastFile, lastChunk = p.CurrentFile, p.CurrentChunk

		logger.Printf("[%d/%d] %s chunk %d/%d, ratio %.1f%%, %.1f KB/s",
			p.ProcessedFiles+1, p.TotalFiles, p.CurrentFile, p.CurrentChunk, p.TotalChunks,
			p.CompressionRatio*100, p.UploadSpeed)
	}
}
