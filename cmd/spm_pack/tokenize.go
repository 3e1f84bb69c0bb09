package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// A REPL for interacting with the configured tokenizer.

type cliTokenize struct {
	root *cliRoot
}

func NewCLITokenize(root *cliRoot) *cliTokenize {
	return &cliTokenize{root: root}
}

func (cli *cliTokenize) NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "tokenize",
		Short:             "Read lines from stdin and print their pieces and ids",
		Example:           `echo "Hello world" | spm_pack tokenize --model-dir models`,
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.repl(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	return cmd
}

func (cli *cliTokenize) repl(in io.Reader, out io.Writer) error {
	tokenizer, err := cli.root.loadTokenizer()
	if err != nil {
		return err
	}
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, ">>> ")
		input, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if input == "" && err != nil {
			fmt.Fprintln(out)
			return nil
		}
		// Remove trailing newline and replace \n with newline.
		input = strings.ReplaceAll(strings.TrimRight(input, "\r\n"), "\\n",
			"\n")

		pieces := tokenizer.Tokenize(input)
		fmt.Fprintf(out, "%v\n", tokenizer.TokensToIds(pieces))
		for _, piece := range pieces {
			fmt.Fprintf(out, "|%s", piece)
		}
		fmt.Fprintln(out)
	}
}
