// Command gokittadmin is the on-demand operator CLI for the maintenance
// surface gokittd otherwise runs on a timer, built as one cobra.Command
// per subcommand.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kittclouds/gokitt/internal/admin"
	"github.com/kittclouds/gokitt/internal/proposal"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/secretconfig"
	"github.com/kittclouds/gokitt/internal/store"
	"github.com/kittclouds/gokitt/internal/topicanalysis"
)

var dataDir string

func main() {
	root := &cobra.Command{
		Use:   "gokittadmin",
		Short: "Maintenance operations for a gokittd data directory",
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./gokittd-data", "gokittd data directory")

	root.AddCommand(pruneCmd(), statsCmd(), cleanupKeywordsCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openAdmin() (*admin.Admin, *store.Store, error) {
	reg := recipe.NewRegistry()
	if err := topicanalysis.RegisterRecipes(reg); err != nil {
		return nil, nil, err
	}
	if err := topicanalysis.RegisterMessageRecipe(reg); err != nil {
		return nil, nil, err
	}
	if err := proposal.RegisterRecipe(reg); err != nil {
		return nil, nil, err
	}
	if err := secretconfig.RegisterRecipe(reg); err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s, err := store.New(filepath.Join(dataDir, "gokitt.db"), reg, logger)
	if err != nil {
		return nil, nil, err
	}
	return admin.New(s, reg, logger), s, nil
}

func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Run every maintenance sweep once and print a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			adm, s, err := openAdmin()
			if err != nil {
				return err
			}
			defer s.Close()
			report, err := adm.RunMaintenance(cmd.Context(), time.Now().UnixMilli())
			if err != nil {
				fmt.Fprintln(os.Stderr, "maintenance completed with errors:", err)
			}
			return json.NewEncoder(os.Stdout).Encode(report)
		},
	}
}

func cleanupKeywordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-keywords",
		Short: "Run the keyword cleanup/merge sweep only",
		RunE: func(cmd *cobra.Command, args []string) error {
			adm, s, err := openAdmin()
			if err != nil {
				return err
			}
			defer s.Close()
			merged, deleted, err := adm.CleanupKeywords(cmd.Context(), time.Now().UnixMilli())
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(map[string]int{
				"merged":  merged,
				"deleted": deleted,
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print object counts, storage footprint, and version depth per type",
		RunE: func(cmd *cobra.Command, args []string) error {
			adm, s, err := openAdmin()
			if err != nil {
				return err
			}
			defer s.Close()
			out, err := adm.Stats(cmd.Context(), nil)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(out)
		},
	}
}
