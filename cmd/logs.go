package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/store"
)

func newLogsCmd() *cobra.Command {
	var clear, follow bool
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the activity log",
		Long: `Prints the persistent activity log (the newest 200 entries). With --follow
the operator log file written by "flow-automator run" is tailed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				return followFile(cmd.Context(), cmd.OutOrStdout(), configFrom(cmd).Logger().LogFile)
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				if clear {
					if err := st.ClearLogs(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Activity log cleared.")
					return nil
				}
				entries, err := st.Logs(ctx)
				if err != nil {
					return err
				}
				for _, e := range entries {
					printLogEntry(cmd.OutOrStdout(), e)
				}
				return nil
			})
		},
	}
	logsCmd.Flags().BoolVar(&clear, "clear", false, "delete the activity log")
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "tail the operator log file")
	logsCmd.MarkFlagsMutuallyExclusive("clear", "follow")
	return logsCmd
}

func printLogEntry(w io.Writer, e schemas.LogEntry) {
	ts := time.UnixMilli(e.Timestamp).Format("15:04:05")
	msg := e.Message
	switch e.Type {
	case schemas.LogSuccess:
		msg = green(msg)
	case schemas.LogError:
		msg = red(msg)
	}
	fmt.Fprintf(w, "%s  %s\n", ts, msg)
}

// followFile prints lines appended to path until ctx ends. Rotated files
// are reopened.
func followFile(ctx context.Context, w io.Writer, path string) error {
	if path == "" {
		return fmt.Errorf("logger.log_file is not set")
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Logger:    tail.DiscardingLogger,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
	})
	if err != nil {
		return fmt.Errorf("failed to tail %s: %w", path, err)
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				fmt.Fprintln(os.Stderr, "tail:", line.Err)
				continue
			}
			fmt.Fprintln(w, line.Text)
		}
	}
}
