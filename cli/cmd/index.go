package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/indexer"
	"github.com/tmc/rclindex/scheduler"
)

var (
	indexCmd = &cobra.Command{
		Use:   "index <path>...",
		Short: "Walk the given paths and (re)index their files",
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
			ix.SetFsFullChecker(func() (int, error) { return indexer.StatfsPercentUsed(args[0]) })
			sched := scheduler.New(ix, logger)

			tasks := make(chan scheduler.Task, sched.QueueDepth)
			errCh := make(chan error, 1)
			go func() { errCh <- sched.Run(ctx, tasks) }()

			count := 0
			for _, root := range args {
				err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
					if err != nil {
						return err
					}
					if d.IsDir() {
						return nil
					}
					task, err := buildTask(path)
					if err != nil {
						logger.WithFields(logrus.Fields{"path": path, "err": err}).Warn("skipping file")
						return nil
					}
					tasks <- task
					count++
					return nil
				})
				if err != nil {
					close(tasks)
					<-errCh
					return err
				}
			}
			close(tasks)
			if err := <-errCh; err != nil {
				return err
			}
			if err := st.Commit(ctx); err != nil {
				return err
			}

			fmt.Printf("indexed %d files\n", count)
			return nil
		},
	}
)

// buildTask reads a file's bytes directly as its document body. Real
// format extraction (PDF/Office/HTML-to-text) is an external filter,
// out of scope here (spec §1); this accepts plain text content as-is,
// the same contract the indexer's Doc type already assumes.
func buildTask(path string) (scheduler.Task, error) {
	info, err := os.Stat(path)
	if err != nil {
		return scheduler.Task{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return scheduler.Task{}, err
	}

	sig, err := indexer.ContentSignature(info.ModTime(), info.Size(), content)
	if err != nil {
		return scheduler.Task{}, err
	}

	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		mt = "text/plain"
	}

	d := indexer.Doc{
		UDI:      doc.UDI("file://" + path),
		URL:      "file://" + path,
		Mimetype: mt,
		Filename: filepath.Base(path),
		Body:     string(content),
		Sig:      sig,
		FMtime:   info.ModTime(),
		DMtime:   time.Now(),
		FBytes:   info.Size(),
		DBytes:   int64(len(content)),
	}
	return scheduler.NewTask(d, scheduler.OpAddOrUpdate), nil
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
