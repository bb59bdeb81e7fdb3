package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	reconciler "github.com/Maksumys/drizzle-reconciler"
	"github.com/Maksumys/drizzle-reconciler/internal/config"
	"github.com/Maksumys/drizzle-reconciler/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	dryRun     bool
	logLevel   string
	ledgerDSN  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "drizzle-reconcile",
		Short: "Reconcile drizzle migration journals with each other and with disk",
		Long: `drizzle-reconcile keeps a drizzle migration journal consistent after branch merges.

It prunes journal entries whose SQL file is gone, merges a base and a feature
journal renumbering only conflicting migrations, applies the resulting rename
map to disk, and renumbers SQL files that share a number on disk.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "Report actions without changing files")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (default: from config)")
	rootCmd.PersistentFlags().StringVar(&flags.ledgerDSN, "ledger", "", "Ledger DSN: postgres:// URL or sqlite file path")

	rootCmd.AddCommand(pruneCmd(flags))
	rootCmd.AddCommand(dedupeCmd(flags))
	rootCmd.AddCommand(reconcileCmd(flags))
	rootCmd.AddCommand(mergeCmd(flags))
	rootCmd.AddCommand(applyRenamesCmd(flags))

	return rootCmd
}

// setup загружает настройки, применяет флаги командной строки и создает реконсилер.
func setup(cmd *cobra.Command, flags *globalFlags) (*config.Config, *reconciler.Reconciler, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if flags.dryRun {
		cfg.DryRun = true
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.ledgerDSN != "" {
		cfg.Ledger.DSN = flags.ledgerDSN
	}

	logger, err := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}

	opts := []reconciler.Option{
		reconciler.WithLogger(logger),
		reconciler.WithDryRun(cfg.DryRun),
		reconciler.WithWindow(reconciler.Window{
			Disk:     cfg.Window.Disk,
			Journal:  cfg.Window.Journal,
			Disabled: cfg.Window.Disabled,
		}),
	}

	if cfg.Ledger.DSN != "" {
		db, err := repository.Open(cfg.Ledger.DSN)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, reconciler.WithLedger(db))
	}

	return cfg, reconciler.NewReconciler(opts...), nil
}

func newLogger(level string, out io.Writer) (*logrus.Logger, error) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(parsed)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logger, nil
}

// journalPath по умолчанию указывает на meta/_journal.json в каталоге миграций.
func journalPath(cfg *config.Config) string {
	if cfg.JournalFile != "" {
		return cfg.JournalFile
	}
	return filepath.Join(cfg.DrizzleDir, "meta", "_journal.json")
}

func metaDir(cfg *config.Config) string {
	if cfg.MetaDir != "" {
		return cfg.MetaDir
	}
	return filepath.Join(cfg.DrizzleDir, "meta")
}

func pruneCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove journal entries whose SQL file no longer exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, r, err := setup(cmd, flags)
			if err != nil {
				return err
			}

			result, err := r.Prune(reconciler.NewFileStore(journalPath(cfg)), cfg.DrizzleDir)
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned journal entries\n", len(result.Removed))
			return nil
		},
	}
}

func dedupeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Renumber SQL files that share a migration number",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, r, err := setup(cmd, flags)
			if err != nil {
				return err
			}

			result, err := r.Deduplicate(reconciler.NewFileStore(journalPath(cfg)), cfg.DrizzleDir, metaDir(cfg))
			if err != nil {
				return fmt.Errorf("dedupe: %w", err)
			}

			printDedupe(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func reconcileCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Prune orphaned entries, then renumber duplicate files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, r, err := setup(cmd, flags)
			if err != nil {
				return err
			}

			result, err := r.Reconcile(reconciler.NewFileStore(journalPath(cfg)), cfg.DrizzleDir, metaDir(cfg))
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned journal entries\n", len(result.Prune.Removed))
			printDedupe(cmd.OutOrStdout(), result.Dedupe)
			return nil
		},
	}
}

func printDedupe(out io.Writer, result *reconciler.DedupeResult) {
	fmt.Fprintf(out, "renumbered %d migration(s)\n", len(result.Renumbered))
	for _, collision := range result.Unresolved {
		fmt.Fprintf(out, "unresolved duplicate number %04d: %v\n", collision.Index, collision.Files)
	}
}

func mergeCmd(flags *globalFlags) *cobra.Command {
	var (
		basePath    string
		featurePath string
		outputPath  string
		renameMap   string
		gitRepo     string
		baseRef     string
		featureRef  string
		apply       bool
	)

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge a base and a feature journal, renumbering conflicting migrations",
		Long: `Merge the journal of a base branch ("theirs") with the journal of a feature
branch ("ours"). Migrations unique to the feature branch keep their number
unless it is already used in the base journal; conflicting ones are renumbered
after the highest base index. The rename map is written as "old|new" lines.

Journals are read from files, or from two git revisions with --git-repo.
Both journals must be readable: a missing journal is an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, r, err := setup(cmd, flags)
			if err != nil {
				return err
			}

			if basePath == "" {
				basePath = cfg.Merge.Base
			}
			if featurePath == "" {
				featurePath = cfg.Merge.Feature
			}
			if outputPath == "" {
				outputPath = cfg.Merge.Output
			}
			if renameMap == "" {
				renameMap = cfg.Merge.RenameMap
			}

			var base, feature reconciler.JournalSource
			if gitRepo != "" {
				if baseRef == "" || featureRef == "" {
					return fmt.Errorf("--base-ref and --feature-ref are required with --git-repo")
				}
				// путь из конфигурации отсчитывается от текущего каталога, в репозитории он приводится к корню
				gitJournal, err := filepath.Abs(journalPath(cfg))
				if err != nil {
					return err
				}
				base = reconciler.NewGitSource(gitRepo, baseRef, gitJournal)
				feature = reconciler.NewGitSource(gitRepo, featureRef, gitJournal)
			} else {
				base = reconciler.NewFileStore(basePath)
				feature = reconciler.NewFileStore(featurePath)
			}

			result, err := r.MergeJournals(base, feature, reconciler.NewFileStore(outputPath), renameMap)
			if err != nil {
				return fmt.Errorf("merge: %w", err)
			}

			if apply && len(result.Renames) > 0 {
				if _, err = r.ApplyRenames(cfg.DrizzleDir, metaDir(cfg), result.Renames); err != nil {
					return fmt.Errorf("apply renames: %w", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "merged %d feature migration(s), renumbered %d\n",
				result.FeatureOnly, len(result.Renames))
			return nil
		},
	}

	cmd.Flags().StringVar(&basePath, "base", "", "Base (theirs) journal file (default: from config)")
	cmd.Flags().StringVar(&featurePath, "feature", "", "Feature (ours) journal file (default: from config)")
	cmd.Flags().StringVar(&outputPath, "output", "", "Merged journal output file (default: from config)")
	cmd.Flags().StringVar(&renameMap, "rename-map", "", "Rename map output file (default: from config)")
	cmd.Flags().StringVar(&gitRepo, "git-repo", "", "Read both journals from this git repository")
	cmd.Flags().StringVar(&baseRef, "base-ref", "", "Base revision when using --git-repo")
	cmd.Flags().StringVar(&featureRef, "feature-ref", "", "Feature revision when using --git-repo")
	cmd.Flags().BoolVar(&apply, "apply", false, "Rename migration files in the drizzle dir after merging")

	return cmd
}

func applyRenamesCmd(flags *globalFlags) *cobra.Command {
	var renameMap string

	cmd := &cobra.Command{
		Use:   "apply-renames",
		Short: "Rename migration files and snapshots according to a rename map",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, r, err := setup(cmd, flags)
			if err != nil {
				return err
			}

			if renameMap == "" {
				renameMap = cfg.Merge.RenameMap
			}

			renames, err := reconciler.ReadRenameMap(renameMap)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					fmt.Fprintln(cmd.OutOrStdout(), "no rename map, nothing to apply")
					return nil
				}
				return err
			}

			result, err := r.ApplyRenames(cfg.DrizzleDir, metaDir(cfg), renames)
			if err != nil {
				return fmt.Errorf("apply renames: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "renamed %d migration(s)\n", len(result.Renamed))
			return nil
		},
	}

	cmd.Flags().StringVar(&renameMap, "rename-map", "", "Rename map file (default: from config)")

	return cmd
}
