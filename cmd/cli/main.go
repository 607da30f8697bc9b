package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nixtools/pybump/internal/config"
	"github.com/nixtools/pybump/internal/fetcher"
	"github.com/nixtools/pybump/internal/files"
	"github.com/nixtools/pybump/internal/git"
	"github.com/nixtools/pybump/internal/nix"
	"github.com/nixtools/pybump/internal/nixfile"
	"github.com/nixtools/pybump/internal/service"
	"github.com/nixtools/pybump/internal/updater"
	"github.com/nixtools/pybump/internal/version"
)

var (
	cfgFile         string
	targetFlag      string
	commitFlag      bool
	usePkgsPrefix   bool
	allowPrerelease bool
	workersFlag     int
	jsonOutput      bool
	recursiveFlag   bool
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          config.AppName,
})

var rootCmd = &cobra.Command{
	Use:   "pybump",
	Short: "Update python package definitions in nixpkgs",
	Long: `pybump bumps the declared version and source hash of python package
definitions. Pass .nix files or the directories containing them; every
package is resolved against its upstream (PyPI or GitHub releases) and
rewritten in place when a newer allowed version exists.`,
}

var updateCmd = &cobra.Command{
	Use:   "update [paths...]",
	Short: "Update package definitions to their newest allowed version",
	Long: `Update every given package definition. The --target flag bounds how far
a version may move: patch and minor updates stay below the incremented
minor and major component respectively, major updates are unbounded.
Updating more than one path enables bulk mode, which packages can opt
out of via their skipBulkUpdate attribute.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if workersFlag > 0 {
			cfg.Workers = workersFlag
		}
		if allowPrerelease {
			cfg.AllowPrerelease = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		target, err := version.ParseBumpLevel(targetFlag)
		if err != nil {
			return err
		}

		paths := args
		if recursiveFlag {
			paths = nil
			for _, arg := range args {
				found, err := files.FindDefinitions(arg)
				if err != nil {
					return err
				}
				paths = append(paths, found...)
			}
			if len(paths) == 0 {
				return fmt.Errorf("no package definitions found under %v", args)
			}
		}

		batch, err := buildBatch(ctx, cfg, target, len(paths) > 1)
		if err != nil {
			return err
		}

		logger.Info("updating packages", "count", len(paths), "target", target)
		results := batch.Run(ctx, paths)

		if jsonOutput {
			out, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		for _, result := range results {
			switch {
			case result.Updated:
				fmt.Printf("%s: %s %s -> %s\n", result.Path, result.Pname, result.OldVersion, result.NewVersion)
			case result.Reason != "":
				fmt.Printf("%s: skipped (%s)\n", result.Path, result.Reason)
			default:
				fmt.Printf("%s: %s\n", result.Path, result.Message)
			}
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(); err != nil {
			return err
		}
		fmt.Printf("Default configuration created at: %s\n", config.Path())
		return nil
	},
}

// buildBatch assembles the full update pipeline from configuration.
func buildBatch(ctx context.Context, cfg *config.Config, target version.BumpLevel, bulk bool) (*service.Batch, error) {
	root := cfg.NixpkgsRoot
	if root == "" {
		var err error
		if root, err = nix.Root(ctx); err != nil {
			return nil, err
		}
	}

	eval := &nix.Evaluator{Root: root}
	prefetch := nix.Prefetcher{}
	releases := fetcher.NewReleaseLister(config.NewGitHubHTTPClient(cfg.GitHubToken))

	pypi := fetcher.NewPyPI(cfg.Index, cfg.AllowPrerelease)
	gh := fetcher.NewGitHub(releases, eval, prefetch, cfg.AllowPrerelease)
	fetchers := map[nixfile.Fetcher]fetcher.Fetcher{
		nixfile.FetchPypi:       pypi,
		nixfile.FetchURL:        pypi,
		nixfile.FetchFromGitHub: gh,
	}

	opts := updater.Options{
		Target:           target,
		BulkUpdate:       bulk,
		AttrPathOverride: os.Getenv(updater.AttrPathEnv),
	}

	batch := &service.Batch{
		Updater: updater.New(eval, fetchers, opts),
		Eval:    eval,
		Logger:  logger,
		Workers: cfg.Workers,
		Target:  target,
	}
	if usePkgsPrefix {
		batch.Prefix = "python3Packages."
	}
	if commitFlag {
		committer, err := git.Open(root, cfg.Git.AuthorName, cfg.Git.AuthorEmail)
		if err != nil {
			return nil, err
		}
		batch.Committer = committer
	}
	return batch, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: "+config.Path()+")")

	updateCmd.Flags().StringVarP(&targetFlag, "target", "t", "major", "Bump level: major, minor or patch")
	updateCmd.Flags().BoolVar(&commitFlag, "commit", false, "Create a commit for each package update")
	updateCmd.Flags().BoolVar(&usePkgsPrefix, "use-pkgs-prefix", false, "Use python3Packages.<pname>: instead of python: <pname>: in commit messages")
	updateCmd.Flags().BoolVar(&allowPrerelease, "allow-prerelease", false, "Consider prerelease versions as update candidates")
	updateCmd.Flags().IntVarP(&workersFlag, "workers", "w", 0, "Number of concurrent update workers (default: number of CPUs)")
	updateCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	updateCmd.Flags().BoolVarP(&recursiveFlag, "recursive", "r", false, "Treat arguments as directories to scan for package definitions")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}
