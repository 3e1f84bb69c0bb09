package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/wbrown/spm_pack/pkg/pipeline"
)

type cliRun struct {
	root *cliRoot
}

func NewCLIRun(root *cliRoot) *cliRun {
	return &cliRun{root: root}
}

func (cli *cliRun) NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reset the output directory and run every worker",
		Example: `spm_pack run --data-dir corpus/wiki --model-dir models \
  --num-processes 8 --max-seq-length 128`,
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.run(cmd)
		},
	}
	return cmd
}

func (cli *cliRun) run(cmd *cobra.Command) error {
	if err := cli.root.cfg.Validate(); err != nil {
		return err
	}
	results, err := pipeline.Run(cli.root.cfg.PipelineOptions())
	printResults(cmd, results)
	return err
}

func printResults(cmd *cobra.Command, results []pipeline.WorkerResult) {
	out := cmd.OutOrStdout()
	for _, result := range results {
		summary := result.Summary
		fmt.Fprintf(out, "worker %d: %d units (%d skipped), %s examples, "+
			"%s tokens, %d shards, %s in %s\n",
			result.WorkerId, summary.Units, summary.SkippedUnits,
			humanize.Comma(int64(summary.Examples)),
			humanize.Comma(int64(summary.Tokens)), len(summary.ShardPaths),
			humanize.Bytes(uint64(summary.Bytes)), result.Elapsed)
	}
}
