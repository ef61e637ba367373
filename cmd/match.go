package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var matchTopK int

var matchCmd = &cobra.Command{
	Use:   "match <query>",
	Short: "Match a donor query to movements",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "match")
		if err != nil {
			return err
		}
		defer env.Close()

		resp := env.Pipeline.Match(ctx, strings.Join(args, " "), matchTopK)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return eris.Wrap(err, "encode match response")
		}
		if resp.Error != "" {
			return eris.New(resp.Error)
		}
		return nil
	},
}

func init() {
	matchCmd.Flags().IntVar(&matchTopK, "top-k", 0, "number of movements to rank (default from config)")
	rootCmd.AddCommand(matchCmd)
}
