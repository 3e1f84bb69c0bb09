package main

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/wbrown/spm_pack"
	"github.com/wbrown/spm_pack/config"
	"github.com/wbrown/spm_pack/pkg/logging"
)

type cliRoot struct {
	configFile string
	cfg        *config.Config
	logCloser  io.Closer
}

func NewCLIRoot() *cliRoot {
	return &cliRoot{}
}

func (cli *cliRoot) NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spm_pack",
		Short: "Tokenize a text corpus and pack it into fixed-length shards",
		Long: `spm_pack tokenizes every unit of a corpus directory with a
SentencePiece model and packs the token ids into fixed-length examples,
spread round-robin over per-worker shard files.

Settings come from --config, SPM_PACK_* environment variables and flags.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cli.initConfig(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if cli.logCloser != nil {
				return cli.logCloser.Close()
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&cli.configFile, "config", "c", "",
		"path to a config file")
	config.RegisterFlags(flags)

	cmd.AddCommand(NewCLIRun(cli).NewCommand())
	cmd.AddCommand(NewCLIWorker(cli).NewCommand())
	cmd.AddCommand(NewCLIInspect(cli).NewCommand())
	cmd.AddCommand(NewCLITokenize(cli).NewCommand())
	cmd.AddCommand(NewCLIExportVocab(cli).NewCommand())
	return cmd
}

// initConfig reads settings without validating them; commands that need a
// complete configuration validate it themselves.
func (cli *cliRoot) initConfig(cmd *cobra.Command) error {
	cfg, err := config.Read(cli.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	cli.cfg = cfg
	cli.logCloser, err = logging.Setup(cfg.Logging())
	return err
}

// loadTokenizer loads the tokenizer described by the model settings.
func (cli *cliRoot) loadTokenizer() (*spm_pack.Tokenizer, error) {
	segmenter, err := spm_pack.ParseSegmenterKind(cli.cfg.Segmenter)
	if err != nil {
		return nil, err
	}
	opts := cli.cfg.PipelineOptions()
	modelPath, vocabPath := opts.ModelPaths()
	return spm_pack.LoadWithOptions(modelPath, vocabPath, spm_pack.Options{
		Segmenter: segmenter,
		LowerCase: cli.cfg.DoLowerCase,
		CacheSize: cli.cfg.CacheSize,
	})
}
