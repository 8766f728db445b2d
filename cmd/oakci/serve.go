package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"oakci/internal/daemon"
	"oakci/internal/server"
)

func newServeCmd() *cobra.Command {
	var projectRoot string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveProjectRoot(projectRoot)
			if err != nil {
				return err
			}

			app, err := daemon.New(root)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return app.Start(ctx) })
			g.Go(func() error { return server.New(app).Run(ctx) })

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				return errInterrupted
			}
			return err
		},
	}
	cmd.Flags().StringVar(&projectRoot, "project", "", "project root (default: current directory)")
	return cmd
}

func resolveProjectRoot(flag string) (string, error) {
	root := flag
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = cwd
	}
	return filepath.Abs(root)
}
