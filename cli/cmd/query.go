package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/query/expand"
	"github.com/tmc/rclindex/query/translate"
	"github.com/tmc/rclindex/snippet"
	"github.com/tmc/rclindex/store"
)

var (
	queryLimit int

	queryCmd = &cobra.Command{
		Use:   "query <terms...>",
		Short: "Run a query and print ranked results with snippets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return fmt.Errorf("a query string is required")
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

			sd := parseQueryString(strings.Join(args, " "))

			exp := expand.New(st, cfg.Synonyms)
			tr := translate.New(cfg, exp, st)
			if len(cfg.IndexStemmingLanguages) > 0 {
				tr.StemLang = cfg.IndexStemmingLanguages[0]
			}

			q, hl, err := tr.Translate(ctx, sd)
			if err != nil {
				return err
			}
			if verbose {
				logger.WithField("runID", hl.RunID).Debugf("compiled query: %+v", q)
			}

			hits, err := st.Run(ctx, q, store.SortSpec{}, queryLimit)
			if err != nil {
				return err
			}

			sb := snippet.New(st)
			for rank, hit := range hits {
				raw, err := st.GetDocument(ctx, hit.DocID)
				if err != nil {
					return err
				}
				rec := doc.ParseDataRecord(string(raw))

				fmt.Printf("%d\t%.3f\t%s\t%s\n", rank+1, hit.Score, rec.URL, rec.Mimetype)

				uniterm := doc.UDI(rec.URL).Uniterm()
				res, err := sb.BuildSnippets(ctx, hit.DocID, uniterm, hl, snippet.Options{MaxOccurrences: 3})
				if err != nil {
					return err
				}
				for _, snip := range res.Snippets {
					fmt.Printf("\t[p%d] %s\n", snip.Page, snip.Text)
				}
			}

			return nil
		},
	}
)

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 20, "maximum number of results")
	rootCmd.AddCommand(queryCmd)
}
