// Command apikey issues and hashes subscriber API keys for operators seeding the
// subscribers table by hand.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gammarips/tool-service/internal/app"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "apikey",
		Short:        "Generate and hash tool-service API keys",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newGenerateCmd(), newHashCmd())
	return rootCmd
}

func newGenerateCmd() *cobra.Command {
	var withHash bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a fresh API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := app.GenerateAPIKey()
			if err != nil {
				return err
			}
			if withHash {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", key, app.HashAPIKey(key))
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
			return err
		},
	}
	cmd.Flags().BoolVar(&withHash, "with-hash", false, "also print the sha256 digest to store")
	return cmd
}

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [key]",
		Short: "Print the stored digest for a key (reads stdin when no key is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read key: %w", err)
				}
				key = line
			}
			key = strings.TrimSpace(key)
			if !app.ValidAPIKeyFormat(key) {
				return errors.New("key format is not recognized")
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), app.HashAPIKey(key))
			return err
		},
	}
}
