package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wbrown/spm_pack/resources"
)

type cliExportVocab struct {
	root      *cliRoot
	modelPath string
	vocabPath string
}

func NewCLIExportVocab(root *cliRoot) *cliExportVocab {
	return &cliExportVocab{root: root}
}

func (cli *cliExportVocab) NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-vocab",
		Short: "Write the piece<TAB>score vocabulary of a SentencePiece model",
		Example: `spm_pack export-vocab --model-dir models --model-prefix wiki-ja
spm_pack export-vocab --model wiki-ja.model --output wiki-ja.vocab`,
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			modelPath, vocabPath := resources.ModelPaths(
				cli.root.cfg.ModelDir, cli.root.cfg.ModelPrefix)
			if cli.modelPath != "" {
				modelPath = cli.modelPath
			}
			if cli.vocabPath != "" {
				vocabPath = cli.vocabPath
			}
			duplicates, err := resources.ExportVocab(modelPath, vocabPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d duplicate pieces)\n",
				vocabPath, len(duplicates))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cli.modelPath, "model", "",
		"model file (default <model-dir>/<model-prefix>.model)")
	flags.StringVar(&cli.vocabPath, "output", "",
		"vocabulary file (default <model-dir>/<model-prefix>.vocab)")
	return cmd
}
