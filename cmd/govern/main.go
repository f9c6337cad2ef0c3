package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/awalker/govern"
	"github.com/awalker/govern/internal/config"
	"github.com/awalker/govern/internal/registry"
	"github.com/awalker/govern/internal/watcher"
)

var (
	flagConfig  string
	flagFormat  string
	flagVerbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "govern",
	Short:         "Architecture governance for source trees",
	Long:          "Govern assigns each source file an architecture from a governance taxonomy, validates the architecture's structural rules against the file, and tracks time-boxed overrides and the cross-reference graph.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", ".govern.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(entityCmd)
	rootCmd.AddCommand(overridesCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(registryCmd)
	rootCmd.AddCommand(watchCmd)
}

func warnWindow(cfg *config.Config) time.Duration {
	return time.Duration(cfg.WarnWindowDays) * 24 * time.Hour
}

// newEngine builds the engine from config plus the shared flags.
func newEngine() (*govern.Engine, *config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.Load(cfg.Registry)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DB), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", filepath.Dir(cfg.DB), err)
	}

	log := zap.NewNop()
	if flagVerbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return nil, nil, err
		}
	}

	opts := []govern.Option{
		govern.WithLogger(log),
		govern.WithWorkers(cfg.Workers),
		govern.WithWarnWindow(warnWindow(cfg)),
		govern.WithScriptLoader(func(name string) (string, error) {
			data, err := os.ReadFile(filepath.Join(cfg.ScriptsDir, name))
			return string(data), err
		}),
	}
	eng, err := govern.New(cfg.DB, reg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

var checkCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Validate a source tree against its declared architectures",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	eng, _, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	report, err := eng.CheckDirectory(cmd.Context(), root)
	if err != nil {
		return err
	}
	report.Health, _ = eng.Health()

	if err := output(report, renderReport); err != nil {
		return err
	}
	if !report.Passed() {
		os.Exit(2)
	}
	return nil
}

var flagDepth int

var graphCmd = &cobra.Command{
	Use:   "graph <file>",
	Short: "Show a file's import graph, direct and transitive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		file := args[0]
		direct, err := eng.Store().GetImportGraph(file)
		if err != nil {
			return err
		}
		transitive, err := eng.Store().GetTransitiveImports(file, flagDepth)
		if err != nil {
			return err
		}
		importers, err := eng.Store().GetTransitiveImporters(file, flagDepth)
		if err != nil {
			return err
		}

		payload := map[string]any{
			"file":                file,
			"imports":             direct.Imports,
			"importedBy":          direct.ImportedBy,
			"transitiveImports":   transitive,
			"transitiveImporters": importers,
		}
		return output(payload, func(v map[string]any) string {
			var b strings.Builder
			fmt.Fprintf(&b, "%s\n", file)
			fmt.Fprintf(&b, "  imports: %d direct, %d transitive\n", len(direct.Imports), len(transitive))
			fmt.Fprintf(&b, "  imported by: %d direct, %d transitive\n", len(direct.ImportedBy), len(importers))
			for _, n := range direct.Imports {
				fmt.Fprintf(&b, "    -> %s [%s]\n", n.Path, n.ArchID)
			}
			for _, n := range direct.ImportedBy {
				fmt.Fprintf(&b, "    <- %s [%s]\n", n.Path, n.ArchID)
			}
			return b.String()
		})
	},
}

var entityCmd = &cobra.Command{
	Use:   "entity <name>",
	Short: "List files referencing a named entity, grouped by architecture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		usages, err := eng.Store().GetFilesForEntity(args[0])
		if err != nil {
			return err
		}
		return output(usages, renderUsages)
	},
}

var overridesCmd = &cobra.Command{
	Use:   "overrides [path]",
	Short: "List override annotations, expiry status, and promotion candidates",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		infos, clusters, findings, err := eng.Overrides(root)
		if err != nil {
			return err
		}

		payload := map[string]any{
			"overrides": infos,
			"clusters":  clusters,
			"findings":  findings,
		}
		return output(payload, func(map[string]any) string {
			return renderOverrides(infos, clusters, findings)
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Flag unused, redundant, or overly deep architecture definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		findings, err := eng.Health()
		if err != nil {
			return err
		}
		return output(findings, renderFindings)
	},
}

var (
	flagIntent string
	flagRule   string
	flagValue  string
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect and edit the architecture registry",
}

var registryShowCmd = &cobra.Command{
	Use:   "show <architecture>",
	Short: "Show the resolved constraint set for an architecture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		reg, err := registry.Load(cfg.Registry)
		if err != nil {
			return err
		}
		set, err := registry.NewResolver(reg).Resolve(args[0])
		if err != nil {
			return err
		}
		return output(set, renderResolvedSet)
	},
}

var registryPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Promote a recurring override into a named mixin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		c := registry.Constraint{Rule: flagRule, Value: flagValue}
		if err := registry.Promote(cfg.Registry, flagIntent, c); err != nil {
			return err
		}
		fmt.Printf("added mixin %q to %s; attach it to architectures via their mixins list\n",
			flagIntent, cfg.Registry)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Re-validate files as they change",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		log, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		w, err := watcher.New(root, eng, log)
		if err != nil {
			return err
		}
		defer w.Close()
		return w.Run(cmd.Context())
	},
}

func init() {
	graphCmd.Flags().IntVar(&flagDepth, "depth", 10, "maximum transitive depth")

	registryCmd.AddCommand(registryShowCmd)
	registryCmd.AddCommand(registryPromoteCmd)
	registryPromoteCmd.Flags().StringVar(&flagIntent, "intent", "", "name for the new mixin")
	registryPromoteCmd.Flags().StringVar(&flagRule, "rule", "", "rule kind of the promoted constraint")
	registryPromoteCmd.Flags().StringVar(&flagValue, "value", "", "constraint value")
	registryPromoteCmd.MarkFlagRequired("intent")
	registryPromoteCmd.MarkFlagRequired("rule")
	registryPromoteCmd.MarkFlagRequired("value")
}
