package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/store"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the prompt queue",
	}

	queueCmd.AddCommand(&cobra.Command{
		Use:   "add <prompt...>",
		Short: "Append one prompt (the arguments joined by spaces)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				added, err := st.AddPrompt(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if !added {
					return fmt.Errorf("prompt is empty")
				}
				return printQueue(cmd.OutOrStdout(), ctx, st)
			})
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:   "import <file|->",
		Short: "Append one prompt per non-blank line of a file (or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readSource(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				n, err := st.ImportPrompts(ctx, text)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d prompts.\n", n)
				return nil
			})
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show the queue",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				return printQueue(cmd.OutOrStdout(), ctx, st)
			})
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:   "remove <position>",
		Short: "Remove the prompt at a 1-based position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("position must be an integer: %w", err)
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				if err := st.RemovePrompt(ctx, pos-1); err != nil {
					return err
				}
				return printQueue(cmd.OutOrStdout(), ctx, st)
			})
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				if err := st.ClearQueue(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue cleared.")
				return nil
			})
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Mark unfinished prompts pending and rewind the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				if _, err := st.ResetQueue(ctx); err != nil {
					return err
				}
				if err := st.ResetPipelineState(ctx); err != nil {
					return err
				}
				return printQueue(cmd.OutOrStdout(), ctx, st)
			})
		},
	})

	return queueCmd
}

func readSource(stdin io.Reader, name string) (string, error) {
	if name == "-" {
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(b), nil
}

func printQueue(w io.Writer, ctx context.Context, st *store.Store) error {
	queue, err := st.Queue(ctx)
	if err != nil {
		return err
	}
	state, err := st.PipelineState(ctx)
	if err != nil {
		return err
	}
	if len(queue) == 0 {
		fmt.Fprintln(w, "Queue is empty.")
		return nil
	}
	for i, item := range queue {
		marker := " "
		if i == state.CurrentIndex {
			marker = ">"
		}
		fmt.Fprintf(w, "%s %3d  %-10s  %s\n", marker, i+1, statusLabel(item.Status), item.Text)
	}
	return nil
}

func statusLabel(s schemas.PromptStatus) string {
	label := fmt.Sprintf("%-10s", s)
	switch s {
	case schemas.PromptDone:
		return green(label)
	case schemas.PromptFailed:
		return red(label)
	case schemas.PromptGenerating:
		return yellow(label)
	}
	return label
}
