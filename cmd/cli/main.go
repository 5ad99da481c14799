// Package main provides a small client for the presencewatch HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	base string
	key  string
	http *http.Client
}

func rootCmd() *cobra.Command {
	c := &client{http: &http.Client{}}
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "presencewatch-cli",
		Short: "Manage presencewatch targets",
		Long: `Manage presencewatch targets over the HTTP API.

Examples:
  presencewatch-cli list
  presencewatch-cli list --issuer 1234
  presencewatch-cli add --tracked 5678 --issuer 1234 --timeout 5
  presencewatch-cli remove --tracked 5678 --issuer 1234 --destination 42
  presencewatch-cli sync
`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.base = strings.TrimRight(c.base, "/")
			c.http.Timeout = timeout
		},
	}

	cmd.PersistentFlags().StringVar(&c.base, "api", envOr("API_BASE", "http://localhost:8080"), "API base URL")
	cmd.PersistentFlags().StringVar(&c.key, "key", os.Getenv("API_KEY"), "API key (admin key for add, remove, sync)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "Request timeout")

	cmd.AddCommand(listCmd(c), addCmd(c), removeCmd(c), syncCmd(c))
	return cmd
}

func listCmd(c *client) *cobra.Command {
	var (
		issuer     string
		outputJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/targets"
			if issuer != "" {
				path = "/api/issuers/" + url.PathEscape(issuer) + "/targets"
			}
			var targets []struct {
				ID   string `json:"id"`
				Spec struct {
					Name           string `json:"name"`
					TrackedID      string `json:"tracked_id"`
					TimeoutMinutes int    `json:"timeout_minutes"`
					IssuerID       string `json:"issuer_id"`
					Destination    string `json:"destination"`
				} `json:"spec"`
				Phase    string `json:"phase"`
				Notified bool   `json:"notified"`
				Display  string `json:"display"`
			}
			raw, err := c.do(cmd.Context(), http.MethodGet, path, nil, &targets)
			if err != nil {
				return err
			}
			if outputJSON {
				_, err := os.Stdout.Write(raw)
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ISSUER\tTRACKED\tDISPLAY\tTIMEOUT\tDESTINATION\tPHASE\tNOTIFIED")
			for _, t := range targets {
				dest := t.Spec.Destination
				if dest == "" {
					dest = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%dm\t%s\t%s\t%t\n",
					t.Spec.IssuerID, t.Spec.TrackedID, t.Display, t.Spec.TimeoutMinutes, dest, t.Phase, t.Notified)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&issuer, "issuer", "", "Only list this issuer's targets")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print the raw JSON response")
	return cmd
}

func addCmd(c *client) *cobra.Command {
	var p struct {
		Name           string `json:"name,omitempty"`
		TrackedID      string `json:"tracked_id"`
		TimeoutMinutes int    `json:"timeout_minutes"`
		IssuerID       string `json:"issuer_id"`
		Destination    string `json:"destination,omitempty"`
	}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Start tracking an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Target struct {
					ID      string `json:"id"`
					Display string `json:"display"`
				} `json:"target"`
				Persisted bool `json:"persisted"`
			}
			_, err := c.do(cmd.Context(), http.MethodPost, "/api/targets", p, &resp)
			if err != nil {
				return err
			}
			fmt.Printf("Tracking %s (target %s).\n", resp.Target.Display, resp.Target.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.TrackedID, "tracked", "", "Account ID to track")
	cmd.Flags().StringVar(&p.IssuerID, "issuer", "", "User who receives the notifications")
	cmd.Flags().IntVar(&p.TimeoutMinutes, "timeout", 0, "Minutes offline before notifying")
	cmd.Flags().StringVar(&p.Destination, "destination", "", "Channel to notify instead of the issuer")
	cmd.Flags().StringVar(&p.Name, "name", "", "Display name (defaults to the account tag)")
	_ = cmd.MarkFlagRequired("tracked")
	_ = cmd.MarkFlagRequired("issuer")
	return cmd
}

func removeCmd(c *client) *cobra.Command {
	var tracked, issuer, destination string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Stop tracking an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/issuers/" + url.PathEscape(issuer) + "/targets/" + url.PathEscape(tracked)
			if destination != "" {
				path += "?destination=" + url.QueryEscape(destination)
			}
			if _, err := c.do(cmd.Context(), http.MethodDelete, path, nil, nil); err != nil {
				return err
			}
			fmt.Println("Removed.")
			return nil
		},
	}
	cmd.Flags().StringVar(&tracked, "tracked", "", "Tracked account ID")
	cmd.Flags().StringVar(&issuer, "issuer", "", "Issuer ID")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination the target was added with")
	_ = cmd.MarkFlagRequired("tracked")
	_ = cmd.MarkFlagRequired("issuer")
	return cmd
}

func syncCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Rewrite the stored target list from the live set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.do(cmd.Context(), http.MethodPost, "/api/sync", nil, nil); err != nil {
				return err
			}
			fmt.Println("Synced.")
			return nil
		},
	}
}

// do sends body as JSON and decodes a 2xx response into out. The raw body is
// returned for callers that print it.
func (c *client) do(ctx context.Context, method, path string, body, out any) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting API: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error     string `json:"error"`
			Persisted *bool  `json:"persisted"`
		}
		_ = json.Unmarshal(raw, &e)
		switch {
		case e.Error != "":
			return raw, fmt.Errorf("API returned %s: %s", resp.Status, e.Error)
		case e.Persisted != nil && !*e.Persisted:
			return raw, fmt.Errorf("API returned %s: change is live but was not saved", resp.Status)
		}
		return raw, fmt.Errorf("API returned status: %s", resp.Status)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("decode response: %w", err)
		}
	}
	return raw, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
