package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wbrown/spm_pack/pkg/metrics"
	"github.com/wbrown/spm_pack/pkg/pipeline"
)

type cliWorker struct {
	root *cliRoot
}

func NewCLIWorker(root *cliRoot) *cliWorker {
	return &cliWorker{root: root}
}

func (cli *cliWorker) NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker ID",
		Short: "Run a single worker of a --num-processes job",
		Long: `Runs worker ID of a --num-processes job without clearing the
output directory, so that the workers of one job can be spread over
several hosts sharing an output directory.`,
		Example:           `spm_pack worker 3 --num-processes 8 --config job.yaml`,
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			workerId, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid worker id `%s`: %w", args[0], err)
			}
			return cli.run(cmd, workerId)
		},
	}
	return cmd
}

func (cli *cliWorker) run(cmd *cobra.Command, workerId int) error {
	cfg := cli.root.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	if workerId < 0 || workerId >= cfg.NumProcesses {
		return fmt.Errorf("worker id %d out of range [0, %d)", workerId,
			cfg.NumProcesses)
	}
	opts := cfg.PipelineOptions()
	if err := opts.CheckResources(); err != nil {
		return err
	}
	if err := os.MkdirAll(opts.OutputPath(), 0755); err != nil {
		return err
	}
	if opts.MetricsFile != "" {
		opts.Metrics = metrics.New()
	}
	result, err := pipeline.RunWorker(opts, workerId)
	if metricsErr := pipeline.WriteMetrics(opts); metricsErr != nil &&
		err == nil {
		err = metricsErr
	}
	printResults(cmd, []pipeline.WorkerResult{result})
	return err
}
