package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/indexer"
	"github.com/tmc/rclindex/store"
)

var purgeCmd = &cobra.Command{
	Use:   "purge <path>...",
	Short: "Delete indexed documents under path(s) whose file no longer exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			_ = cmd.Help()
			return fmt.Errorf("at least one path is required")
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

		ix := indexer.New(st, cfg, logger)
		total := 0

		for _, root := range args {
			candidates, err := docsUnderPath(ctx, st, root)
			if err != nil {
				return err
			}

			ix.ResetSeen()
			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				uniterm := doc.UDI("file://" + path).Uniterm()
				pl, err := st.PostlistBegin(ctx, uniterm)
				if err != nil {
					return err
				}
				var ids []store.DocID
				for pl.Next() {
					ids = append(ids, pl.DocID())
				}
				if err := pl.Err(); err != nil {
					return err
				}
				ix.PreparePurge(ids)
				return nil
			})
			if err != nil {
				return err
			}

			deleted, err := ix.Purge(ctx, candidates)
			if err != nil {
				return err
			}
			total += deleted
		}

		if err := st.Commit(ctx); err != nil {
			return err
		}

		fmt.Printf("purged %d documents\n", total)
		return nil
	},
}

// docsUnderPath returns every document currently indexed anywhere under
// root, by walking the postlist of its deepest path-element term and
// keeping the documents whose stored URL starts with "file://"+root.
func docsUnderPath(ctx context.Context, st store.Store, root string) ([]store.DocID, error) {
	terms := doc.PathElementTerms(root)
	if len(terms) == 0 {
		return nil, nil
	}
	last := terms[len(terms)-1]

	pl, err := st.PostlistBegin(ctx, last)
	if err != nil {
		return nil, err
	}
	var out []store.DocID
	for pl.Next() {
		id := pl.DocID()
		raw, err := st.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		rec := doc.ParseDataRecord(string(raw))
		if strings.HasPrefix(rec.URL, "file://"+root) {
			out = append(out, id)
		}
	}
	if err := pl.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
