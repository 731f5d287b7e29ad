package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alecthomas/repr"
	"github.com/spf13/cobra"

	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/store"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <docid>",
	Short: "Print the stored data record for a document id",
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
		fmt.Println(repr.String(rec))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}
