// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/oeb25/webgraph/internal/config"
	"github.com/oeb25/webgraph/internal/observability"
)

type contextKey string

// configKey carries the validated configuration to subcommands.
const configKey = contextKey("config")

var cfgFile string

// flagBindings maps command line flags onto their viper keys so flags
// override the config file and environment with the right precedence.
var flagBindings = map[string]string{
	"data-dir":   "storage.data_dir",
	"workers":    "engine.worker_concurrency",
	"max-rounds": "engine.max_rounds",
	"error":      "sketch.relative_std_error",
	"output":     "scores.output_path",
}

// NewRootCommand builds a fresh command tree. A new instance per invocation
// keeps flag state from leaking between runs.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "webgraph",
		Short:        "Webgraph builds link graph snapshots and computes approximate harmonic centrality.",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before any subcommand, setting up config and logging.
			v := viper.New()
			config.SetDefaults(v)
			if err := readConfig(v); err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger)
				return err
			}

			for name, key := range flagBindings {
				flag := cmd.Flags().Lookup(name)
				if flag == nil {
					continue
				}
				if err := v.BindPFlag(key, flag); err != nil {
					return err
				}
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger)
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting webgraph", zap.String("version", Version))

			// Store the validated config in the command's context for subcommands.
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newCentralityCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the command tree under a signal aware context.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return err
}

// readConfig reads in the config file and WEBGRAPH_* environment variables.
func readConfig(v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "webgraph"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("WEBGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars carry the run.
	}
	return nil
}

// getConfigFromContext retrieves the config placed there by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration missing from command context")
	}
	return cfg, nil
}
