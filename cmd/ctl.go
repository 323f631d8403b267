package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/flow-automator/api/schemas"
)

const ctlTimeout = 45 * time.Second

// controlClient talks to the control surface of a running automator.
type controlClient struct {
	base   string
	client *http.Client
}

func newControlClient(addr string) *controlClient {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &controlClient{base: base, client: &http.Client{Timeout: ctlTimeout}}
}

// do sends body (when non-nil) as JSON and decodes a 2xx reply into out.
func (c *controlClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("control surface unreachable (is \"flow-automator run\" running?): %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr schemas.ErrorResult
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected HTTP %d", resp.StatusCode)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func newCtlCmd() *cobra.Command {
	ctlCmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running automator through its control surface",
	}
	ctlCmd.PersistentFlags().String("addr", "", "control surface address (default from server.addr)")
	_ = ctlCmd.PersistentFlags().SetAnnotation("addr", configKeyAnnotation, []string{"server.addr"})

	client := func(cmd *cobra.Command) *controlClient {
		return newControlClient(configFrom(cmd).Server().Addr)
	}

	for _, action := range []struct{ name, short string }{
		{"start", "Start the pipeline, or resume it when paused"},
		{"pause", "Pause before the next prompt"},
		{"resume", "Resume a paused pipeline"},
		{"stop", "Stop the pipeline"},
		{"restart", "Reset unfinished prompts and start from the top"},
	} {
		action := action
		ctlCmd.AddCommand(&cobra.Command{
			Use:   action.name,
			Short: action.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var status map[string]interface{}
				if err := client(cmd).do(cmd.Context(), http.MethodPost, "/api/pipeline/"+action.name, nil, &status); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), status)
			},
		})
	}

	ctlCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the pipeline state and the Flow tab's generation status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client(cmd)
			var pipeline map[string]interface{}
			if err := c.do(cmd.Context(), http.MethodGet, "/api/pipeline", nil, &pipeline); err != nil {
				return err
			}
			out := map[string]interface{}{"pipeline": pipeline}
			var page schemas.StatusResult
			if err := c.do(cmd.Context(), http.MethodGet, "/api/page", nil, &page); err != nil {
				out["page"] = map[string]string{"error": err.Error()}
			} else {
				out["page"] = page
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})

	var stopPicking bool
	pickCmd := &cobra.Command{
		Use:   "pick <role>",
		Short: "Put the Flow tab into picker mode for a role",
		Long:  "Roles: " + joinRoles() + ". Click the element in the Flow tab, or press Escape to cancel.",
		Args: func(cmd *cobra.Command, args []string) error {
			if stopPicking {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var res schemas.ActionResult
			if stopPicking {
				if err := client(cmd).do(cmd.Context(), http.MethodPost, "/api/picker/stop", nil, &res); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}
			if !schemas.ValidRole(schemas.ElementRole(args[0])) {
				return fmt.Errorf("unknown element role %q; expected one of %s", args[0], joinRoles())
			}
			body := map[string]string{"role": args[0]}
			if err := client(cmd).do(cmd.Context(), http.MethodPost, "/api/picker/start", body, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	pickCmd.Flags().BoolVar(&stopPicking, "stop", false, "leave picker mode")
	ctlCmd.AddCommand(pickCmd)

	ctlCmd.AddCommand(&cobra.Command{
		Use:   "forget [role]",
		Short: "Forget one picked element, or all of them, and update the attached tab",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/elements"
			if len(args) == 1 {
				if !schemas.ValidRole(schemas.ElementRole(args[0])) {
					return fmt.Errorf("unknown element role %q; expected one of %s", args[0], joinRoles())
				}
				path += "/" + args[0]
			}
			var remaining schemas.PickedElements
			if err := client(cmd).do(cmd.Context(), http.MethodDelete, path, nil, &remaining); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), remaining)
		},
	})

	ctlCmd.AddCommand(&cobra.Command{
		Use:   "test <role>",
		Short: "Check whether a role currently resolves on the Flow tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res schemas.TestResult
			if err := client(cmd).do(cmd.Context(), http.MethodGet, "/api/elements/"+args[0]+"/test", nil, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	})
	return ctlCmd
}

func joinRoles() string {
	names := make([]string, len(schemas.PickableRoles))
	for i, r := range schemas.PickableRoles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
