package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/wbrown/spm_pack"
	"github.com/wbrown/spm_pack/pkg/packer"
)

type cliInspect struct {
	root     *cliRoot
	examples int
	decode   bool
}

func NewCLIInspect(root *cliRoot) *cliInspect {
	return &cliInspect{root: root}
}

func (cli *cliInspect) NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect SHARD...",
		Short: "Print shard headers and examples",
		Example: `spm_pack inspect out/pretrain_data.spk-00000-of-00008
spm_pack inspect --examples 3 --decode --model-dir models out/*`,
		Args:              cobra.MinimumNArgs(1),
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.inspect(cmd.OutOrStdout(), args)
		},
	}
	flags := cmd.Flags()
	flags.IntVarP(&cli.examples, "examples", "n", 0,
		"number of examples to print per shard, -1 for all")
	flags.BoolVar(&cli.decode, "decode", false,
		"print the vocabulary tokens of each example")
	return cmd
}

func (cli *cliInspect) inspect(out io.Writer, paths []string) error {
	var vocab *spm_pack.Vocab
	if cli.decode {
		opts := cli.root.cfg.PipelineOptions()
		_, vocabPath := opts.ModelPaths()
		var err error
		if vocab, err = spm_pack.LoadVocab(vocabPath); err != nil {
			return err
		}
	}
	for _, path := range paths {
		if err := cli.inspectShard(out, path, vocab); err != nil {
			return err
		}
	}
	return nil
}

func (cli *cliInspect) inspectShard(out io.Writer, path string,
	vocab *spm_pack.Vocab) error {
	stat, err := os.Stat(path)
	if err != nil {
		return err
	}
	sr, err := packer.OpenShard(path)
	if err != nil {
		return err
	}
	defer sr.Close()
	header := sr.Header()
	fmt.Fprintf(out, "%s: worker %d, shard %d of %d, %d ids x %d bytes, "+
		"%s records, %s\n", path, header.WorkerId, header.ShardIndex,
		header.NumShards, header.SeqLength, header.TokenWidth,
		humanize.Comma(int64(header.Records)),
		humanize.Bytes(uint64(stat.Size())))

	for idx := 0; cli.examples < 0 || idx < cli.examples; idx++ {
		example, err := sr.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}
		marker := ""
		if example.DocStart {
			marker = " doc_start"
		}
		fmt.Fprintf(out, "  [%d]%s %v\n", idx, marker, example.Ids)
		if vocab != nil {
			fmt.Fprintf(out, "      %s\n",
				strings.Join(vocab.IdsToTokens(example.Ids), "|"))
		}
	}
	return nil
}
