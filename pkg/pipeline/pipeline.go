// Package pipeline runs the tokenize-and-pack job: it resets the output
// directory, fans the corpus out over independent workers and joins them.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"github.com/wbrown/spm_pack"
	"github.com/wbrown/spm_pack/pkg/logging"
	"github.com/wbrown/spm_pack/pkg/metrics"
	"github.com/wbrown/spm_pack/pkg/packer"
	"github.com/wbrown/spm_pack/pkg/partition"
	"github.com/wbrown/spm_pack/pkg/publish"
	"github.com/wbrown/spm_pack/resources"
	"github.com/wbrown/spm_pack/types"
)

const DefaultOutputName = "pretrain_shards"

// ErrUnsafeOutput is returned for an output directory whose reset would
// remove the corpus or the model.
var ErrUnsafeOutput = errors.New("unsafe output directory")

// Options is everything a worker needs. It is shared read-only between
// workers.
type Options struct {
	DataDir            string
	ModelDir           string
	ModelPrefix        string
	OutputDir          string
	MaxSeqLength       int
	NumProcesses       int
	ShardsPerWorker    int
	DoLowerCase        bool
	BlanksSeparateDocs bool
	Sanitize           bool
	Segmenter          spm_pack.SegmenterKind
	BoundaryId         int64
	PadId              types.Token
	Seed               int64
	CacheSize          int
	MetricsFile        string
	OutputURI          string
	AwsRegion          string
	AwsEndpoint        string

	// Metrics collects counters across workers; nil disables them.
	Metrics *metrics.Metrics
	// S3Client overrides the client built from AwsRegion and AwsEndpoint.
	S3Client publish.S3Client
}

// WorkerResult is what one worker reports when it ends.
type WorkerResult struct {
	WorkerId  int
	Units     int
	Summary   packer.Summary
	Published int
	Elapsed   time.Duration
}

// WorkerError is a fatal failure of one worker. Other workers are not
// affected by it.
type WorkerError struct {
	WorkerId int
	Err      error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d: %v", e.WorkerId, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

func (opts *Options) Validate() error {
	if opts.DataDir == "" {
		return errors.New("data directory is required")
	} else if opts.ModelDir == "" {
		return errors.New("model directory is required")
	} else if opts.NumProcesses < 1 {
		return fmt.Errorf("need at least one process, got %d",
			opts.NumProcesses)
	} else if opts.MaxSeqLength < 1 {
		return fmt.Errorf("max sequence length must be positive, got %d",
			opts.MaxSeqLength)
	} else if opts.ShardsPerWorker < 1 {
		return fmt.Errorf("need at least one shard per worker, got %d",
			opts.ShardsPerWorker)
	}
	return CheckOutputDir(opts.OutputPath(), opts.DataDir, opts.ModelDir)
}

// CheckOutputDir
// Rejects an output directory that is, or contains, the data or model
// directory, and one inside the data directory where it would be read
// back as a unit.
func CheckOutputDir(outputDir string, dataDir string, modelDir string) error {
	output, err := filepath.Abs(outputDir)
	if err != nil {
		return err
	}
	for _, input := range []string{dataDir, modelDir} {
		abs, absErr := filepath.Abs(input)
		if absErr != nil {
			return absErr
		}
		if within(output, abs) {
			return fmt.Errorf("%w: `%s` holds `%s`", ErrUnsafeOutput,
				outputDir, input)
		}
	}
	data, err := filepath.Abs(dataDir)
	if err != nil {
		return err
	}
	if within(data, output) {
		return fmt.Errorf("%w: `%s` is inside data directory `%s`",
			ErrUnsafeOutput, outputDir, dataDir)
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(dir string, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." &&
		!strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// OutputPath is the shard directory, defaulting to a directory inside the
// model directory.
func (opts *Options) OutputPath() string {
	if opts.OutputDir != "" {
		return opts.OutputDir
	}
	return filepath.Join(opts.ModelDir, DefaultOutputName)
}

func (opts *Options) ModelPaths() (modelPath string, vocabPath string) {
	return resources.ModelPaths(opts.ModelDir, opts.ModelPrefix)
}

// CheckResources
// Verifies that the model directory holds what the configured segmenter
// needs, without loading it.
func (opts *Options) CheckResources() error {
	defs := resources.GetResourceEntries(opts.ModelPrefix)
	if opts.Segmenter == spm_pack.Whitespace {
		defs[opts.ModelPrefix+resources.ModelSuffix] =
			resources.RESOURCE_OPTIONAL
	}
	rsrcs, err := resources.ResolveEntries(opts.ModelDir, defs)
	if err != nil {
		return err
	}
	rsrcs.Cleanup()
	return nil
}

func (opts *Options) loadTokenizer() (*spm_pack.Tokenizer, error) {
	modelPath, vocabPath := opts.ModelPaths()
	return spm_pack.LoadWithOptions(modelPath, vocabPath, spm_pack.Options{
		Segmenter: opts.Segmenter,
		LowerCase: opts.DoLowerCase,
		CacheSize: opts.CacheSize,
	})
}

func (opts *Options) publisher(logger *log.Entry) (*publish.Publisher,
	error) {
	client := opts.S3Client
	if client == nil {
		s3Client, err := publish.NewS3Client(opts.AwsRegion,
			opts.AwsEndpoint)
		if err != nil {
			return nil, err
		}
		client = s3Client
	}
	return publish.NewPublisher(client, opts.OutputURI, logger)
}

// ResetOutput removes dir and everything in it, then recreates it empty.
func ResetOutput(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cannot clear output `%s`: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create output `%s`: %w", dir, err)
	}
	return nil
}

// RunWorker
// Runs worker `workerId` of an `opts.NumProcesses` worker job to the end:
// it loads its own tokenizer, packs its share of the units and finalizes
// its shards. Any failure is returned as a *WorkerError.
func RunWorker(opts Options, workerId int) (result WorkerResult, err error) {
	logger := logging.ForWorker(workerId)
	result.WorkerId = workerId
	start := time.Now()
	defer func() {
		result.Elapsed = time.Since(start)
		if err != nil {
			err = &WorkerError{WorkerId: workerId, Err: err}
			if opts.Metrics != nil {
				opts.Metrics.WorkerFailed(workerId)
			}
		}
	}()

	tokenizer, err := opts.loadTokenizer()
	if err != nil {
		return result, err
	}
	units, err := partition.ListUnits(opts.DataDir)
	if err != nil {
		return result, err
	}
	assigned := partition.Assign(units, opts.NumProcesses, workerId,
		partition.NewRand(opts.Seed, workerId))
	result.Units = len(assigned)
	logger.WithFields(log.Fields{
		"units": len(assigned),
		"total": len(units),
	}).Info("Worker starting")

	p, err := packer.New(packer.Config{
		OutputDir:          opts.OutputPath(),
		WorkerId:           workerId,
		NumWorkers:         opts.NumProcesses,
		ShardCount:         opts.ShardsPerWorker,
		MaxSeqLength:       opts.MaxSeqLength,
		BlanksSeparateDocs: opts.BlanksSeparateDocs,
		PadId:              opts.PadId,
		BoundaryId:         opts.BoundaryId,
		TokenWidth:         tokenizer.TokenWidth(),
		Sanitize:           opts.Sanitize,
		Logger:             logger,
	}, tokenizer)
	if err != nil {
		return result, err
	}

	prev := p.Stats()
	for _, unit := range assigned {
		if err = p.WriteExamples(filepath.Join(opts.DataDir,
			unit)); err != nil {
			p.Close()
			return result, err
		}
		if opts.Metrics != nil {
			cur := p.Stats()
			opts.Metrics.AddProgress(workerId, prev, cur)
			prev = cur
		}
	}
	if result.Summary, err = p.Finish(); err != nil {
		return result, err
	}
	if opts.Metrics != nil {
		opts.Metrics.AddProgress(workerId, prev, result.Summary)
		hits, misses := tokenizer.CacheStats()
		opts.Metrics.AddCacheStats(workerId, hits, misses)
	}

	if opts.OutputURI != "" && len(result.Summary.ShardPaths) > 0 {
		publisher, pubErr := opts.publisher(logger)
		if pubErr != nil {
			return result, pubErr
		}
		if err = publisher.UploadAll(result.Summary.ShardPaths); err != nil {
			return result, err
		}
		result.Published = len(result.Summary.ShardPaths)
	}

	logger.WithFields(log.Fields{
		"units":    result.Summary.Units,
		"skipped":  result.Summary.SkippedUnits,
		"examples": humanize.Comma(int64(result.Summary.Examples)),
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("Worker finished")
	return result, nil
}

// Run
// Resets the output directory and runs every worker, inline when there is
// just one. It waits for all workers; the returned error joins each
// worker's *WorkerError and the results of failed workers are partial.
func Run(opts Options) ([]WorkerResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := opts.CheckResources(); err != nil {
		return nil, err
	}
	if opts.Metrics == nil && opts.MetricsFile != "" {
		opts.Metrics = metrics.New()
	}
	outputDir := opts.OutputPath()
	if err := ResetOutput(outputDir); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"data":    opts.DataDir,
		"output":  outputDir,
		"workers": opts.NumProcesses,
	}).Info("Starting pipeline")

	results := make([]WorkerResult, opts.NumProcesses)
	var runErr error
	if opts.NumProcesses == 1 {
		results[0], runErr = RunWorker(opts, 0)
	} else {
		workers := pool.New().WithErrors()
		for workerId := 0; workerId < opts.NumProcesses; workerId++ {
			workerId := workerId
			workers.Go(func() error {
				var err error
				results[workerId], err = RunWorker(opts, workerId)
				return err
			})
		}
		runErr = workers.Wait()
	}

	if metricsErr := WriteMetrics(opts); metricsErr != nil {
		log.Warnf("cannot write metrics: %v", metricsErr)
	}
	logTotals(results)
	return results, runErr
}

// WriteMetrics dumps the counters to the metrics file, if one is set.
func WriteMetrics(opts Options) error {
	if opts.Metrics == nil || opts.MetricsFile == "" {
		return nil
	}
	return opts.Metrics.WriteTextfile(opts.MetricsFile)
}

func logTotals(results []WorkerResult) {
	var examples, tokens int
	var size int64
	shards := 0
	for _, result := range results {
		examples += result.Summary.Examples
		tokens += result.Summary.Tokens
		size += result.Summary.Bytes
		shards += len(result.Summary.ShardPaths)
	}
	log.WithFields(log.Fields{
		"examples": humanize.Comma(int64(examples)),
		"tokens":   humanize.Comma(int64(tokens)),
		"shards":   shards,
		"size":     humanize.Bytes(uint64(size)),
	}).Info("Pipeline finished")
}
