package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raihanakbr/lesson-session-client/internal/auth"
	"github.com/raihanakbr/lesson-session-client/internal/config"
	"github.com/raihanakbr/lesson-session-client/internal/logger"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "lessonclient",
		Short:        "Terminal client for narrated lesson sessions",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newTokenCmd(opts))
	return root
}

func (o *rootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// newTokenStore picks the credential backend named in the config.
func newTokenStore(cfg *config.Config) (*auth.Store, error) {
	switch cfg.TokenBackend {
	case config.BackendKeyring:
		return auth.NewStore(auth.KeyringBackend{}), nil
	case config.BackendEnv:
		return auth.NewStore(auth.EnvBackend{Var: config.EnvAccessToken}), nil
	case config.BackendMemory:
		store := auth.NewStore(&auth.MemoryBackend{})
		if tok := os.Getenv(config.EnvAccessToken); tok != "" {
			if err := store.Set(tok); err != nil {
				return nil, err
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown token backend %q", cfg.TokenBackend)
	}
}
