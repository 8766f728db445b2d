package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"oakci/internal/config"
	"oakci/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status map[string]interface{}
			if err := newAPIClient().get("/api/status", &status); err != nil {
				return err
			}
			if v, ok := status["version"].(map[string]interface{}); ok {
				if update, _ := v["update_available"].(bool); update {
					fmt.Fprintf(os.Stderr, "A newer version is installed; restart with `%s serve` to pick it up.\n",
						config.CLICommand())
				}
			}
			return printJSON(status)
		},
	}
}

func newSearchCmd() *cobra.Command {
	var limit int
	var searchType string
	var includeResolved bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over code, memory, plans, and sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			err := newAPIClient().post("/api/search", map[string]interface{}{
				"query":            strings.Join(args, " "),
				"limit":            limit,
				"search_type":      searchType,
				"include_resolved": includeResolved,
			}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results per collection")
	cmd.Flags().StringVar(&searchType, "type", "all", "all, code, memory, plans, or sessions")
	cmd.Flags().BoolVar(&includeResolved, "include-resolved", false, "include resolved and superseded observations")
	return cmd
}

func newRememberCmd() *cobra.Command {
	var memoryType, context, sessionID string
	var tags []string
	var importance int

	cmd := &cobra.Command{
		Use:   "remember <observation>",
		Short: "Store an observation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			err := newAPIClient().post("/api/remember", map[string]interface{}{
				"observation": strings.Join(args, " "),
				"memory_type": memoryType,
				"context":     context,
				"tags":        tags,
				"session_id":  sessionID,
				"importance":  importance,
			}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&memoryType, "type", "discovery", "gotcha, bug_fix, decision, discovery, or trade_off")
	cmd.Flags().StringVar(&context, "context", "", "file path or other context")
	cmd.Flags().StringVar(&sessionID, "session", "", "session to attribute the observation to")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags (repeatable)")
	cmd.Flags().IntVar(&importance, "importance", 5, "importance 1-10")
	return cmd
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <id>...",
		Short: "Fetch full observation content by id",
		Args:  cobra.RangeArgs(1, 20),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := newAPIClient().post("/api/fetch", map[string]interface{}{"ids": args}, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a history backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := newAPIClient().post("/api/backup/create", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newRestoreCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore history from a backup file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := newAPIClient().post("/api/backup/restore", map[string]string{"file": file}, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "backup file name in .oak/ci-history (default: this machine's)")
	return cmd
}

// newHookCmd forwards a hook payload from stdin to the daemon and prints the
// response, so agent hook configurations can shell out to this binary. The
// response may be a deny envelope the agent acts on.
func newHookCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "hook <event>",
		Short:     "Forward an agent hook payload from stdin to the daemon",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"session-start", "session-end", "user-prompt", "pre-tool-use", "post-tool-use"},
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			var body interface{}
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &body); err != nil {
					return fmt.Errorf("stdin is not valid JSON: %w", err)
				}
			}
			var out map[string]interface{}
			if err := newAPIClient().post("/api/hooks/"+args[0], body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Version)
		},
	}
}
