package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func printJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func newSettingsCmd() *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change pipeline settings",
	}

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print settings, video specs and the download folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				settings, err := st.Settings(ctx)
				if err != nil {
					return err
				}
				specs, err := st.VideoSpecs(ctx)
				if err != nil {
					return err
				}
				folder, err := st.DownloadFolder(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"settings":       settings,
					"videoSpecs":     specs,
					"downloadFolder": folder,
				})
			})
		},
	})

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "set <key=value...>",
		Short: "Change settings, e.g. delayBetween=10 autoDownload=false downloadFolder=veo",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseAssignments(args)
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				if folder, ok := patch["downloadFolder"]; ok {
					delete(patch, "downloadFolder")
					if err := st.SetDownloadFolder(ctx, fmt.Sprint(folder)); err != nil {
						return err
					}
				}
				settings, err := st.UpdateSettings(ctx, patch)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), settings)
			})
		},
	})
	return settingsCmd
}

// parseAssignments turns key=value pairs into a patch. Integers and
// booleans keep their type so the patch decodes into typed fields.
func parseAssignments(args []string) (map[string]interface{}, error) {
	patch := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		if n, err := strconv.Atoi(value); err == nil {
			patch[key] = n
		} else if b, err := strconv.ParseBool(value); err == nil {
			patch[key] = b
		} else {
			patch[key] = value
		}
	}
	return patch, nil
}

func newSpecsCmd() *cobra.Command {
	specsCmd := &cobra.Command{
		Use:   "specs",
		Short: "Manage the video options applied before each prompt",
	}

	var specs schemas.VideoSpecs
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Set video options; an empty value clears one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := map[string]interface{}{}
			for flag, field := range map[string]schemas.SpecField{
				"aspect-ratio": schemas.SpecAspectRatio,
				"duration":     schemas.SpecDuration,
				"style":        schemas.SpecStyle,
			} {
				if cmd.Flags().Changed(flag) {
					v, _ := cmd.Flags().GetString(flag)
					patch[string(field)] = v
				}
			}
			if len(patch) == 0 {
				return fmt.Errorf("nothing to set; use --aspect-ratio, --duration or --style")
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				updated, err := st.UpdateVideoSpecs(ctx, patch)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), updated)
			})
		},
	}
	setCmd.Flags().StringVar(&specs.AspectRatio, "aspect-ratio", "", "aspect ratio option text, e.g. 16:9")
	setCmd.Flags().StringVar(&specs.Duration, "duration", "", "duration option text, e.g. 8s")
	setCmd.Flags().StringVar(&specs.Style, "style", "", "style option text")
	specsCmd.AddCommand(setCmd)

	specsCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the video options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				specs, err := st.VideoSpecs(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), specs)
			})
		},
	})
	return specsCmd
}

func newElementsCmd() *cobra.Command {
	elementsCmd := &cobra.Command{
		Use:   "elements",
		Short: "Inspect or forget picked page elements",
	}

	elementsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the picked element for each role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				picked, err := st.PickedElements(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, role := range schemas.PickableRoles {
					desc, ok := picked[role]
					label := "(auto)"
					if ok {
						label = cyan(desc.DisplayLabel)
						if desc.DisplayLabel == "" {
							label = cyan("<" + desc.TagName + ">")
						}
					}
					fmt.Fprintf(w, "%-18s %s\n", role, label)
				}
				return nil
			})
		},
	})

	elementsCmd.AddCommand(&cobra.Command{
		Use:   "clear [role]",
		Short: "Forget one picked element, or all of them",
		Long: "Forget one picked element, or all of them, in the store.\n\n" +
			"A running automator keeps using the elements it already sent to the Flow tab until it\n" +
			"reattaches. Use \"flow-automator ctl forget\" to clear them on the live tab as well.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				if len(args) == 0 {
					if err := st.ClearPickedElements(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "All picked elements cleared.")
					return nil
				}
				role := schemas.ElementRole(args[0])
				if !schemas.ValidRole(role) {
					return fmt.Errorf("unknown element role %q", role)
				}
				if _, err := st.ClearPickedElement(ctx, role); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s.\n", role)
				return nil
			})
		},
	})
	return elementsCmd
}
