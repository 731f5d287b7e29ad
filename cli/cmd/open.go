package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/store"
)

var openCmd = &cobra.Command{
	Use:   "open <docid>",
	Short: "Open a result's URL in the desktop browser/file manager",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid docid %q: %w", args[0], err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		raw, err := st.GetDocument(ctx, store.DocID(n))
		if err != nil {
			return err
		}
		rec := doc.ParseDataRecord(string(raw))
		if rec.URL == "" {
			return fmt.Errorf("document %d has no stored url", n)
		}
		return browser.OpenURL(rec.URL)
	},
}

func init() {
	rootCmd.AddCommand(openCmd)
}
