package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print document count and average document length",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		count, err := st.DocCount(ctx)
		if err != nil {
			return err
		}
		lower, upper, err := st.DocLengthBounds(ctx)
		if err != nil {
			return err
		}
		avg, err := st.AvgLength(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("documents: %d\n", count)
		fmt.Printf("length bounds: [%d, %d]\n", lower, upper)
		fmt.Printf("average length: %.1f\n", avg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
