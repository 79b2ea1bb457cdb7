package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stemsi/exstem-session/internal/apiclient"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.Load()

	root := &cobra.Command{
		Use:           "examctl",
		Short:         "Take timed exams from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	f := root.PersistentFlags()
	f.String("api-url", cfg.ExamAPIURL, "Exam API base URL")
	f.Duration("api-timeout", cfg.ExamAPITimeout, "Timeout of a single API call")
	f.String("store", cfg.LocalStore, "Local store backend (sqlite, redis)")
	f.String("store-path", cfg.LocalStorePath, "SQLite database path")
	f.String("redis-url", cfg.RedisURL, "Redis URL when --store=redis")
	f.Int("attempts-cap", cfg.AttemptsCap, "Attempts cap used when the API reports none")
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")
	f.String("log-format", "pretty", "Log format (pretty, json)")

	root.AddCommand(loginCmd(), logoutCmd(), takeCmd(), statusCmd(), discardCmd(), resultCmd())
	return root
}

// viperForCmd binds a command's flags and EXAMCTL_* environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	_ = v.BindPFlags(cmd.InheritedFlags())

	v.SetEnvPrefix("EXAMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examctl")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examctl")
	_ = v.ReadInConfig()

	return v
}

// env is what every command works with: settings, a logger on stderr, the
// local store and an API client.
type env struct {
	v     *viper.Viper
	log   zerolog.Logger
	store store.Store
	api   *apiclient.Client
}

func openEnv(ctx context.Context, cmd *cobra.Command) (*env, error) {
	v := viperForCmd(cmd)
	log := logger.SetupWriter(os.Stderr, "examctl", v.GetString("log-level"), v.GetString("log-format"))
	if path := v.ConfigFileUsed(); path != "" {
		log.Debug().Str("path", path).Msg("Loaded config file")
	}

	var s store.Store
	switch backend := strings.ToLower(v.GetString("store")); backend {
	case config.LocalStoreSQLite:
		sq, err := store.NewSQLite(v.GetString("store-path"))
		if err != nil {
			return nil, err
		}
		s = sq
	case config.LocalStoreRedis:
		rdb, err := database.NewRedisClient(ctx, v.GetString("redis-url"), log)
		if err != nil {
			return nil, err
		}
		s = store.NewRedis(rdb, "examctl:")
	default:
		return nil, fmt.Errorf("unknown store %q", backend)
	}

	return &env{
		v:     v,
		log:   log,
		store: s,
		api:   apiclient.New(v.GetString("api-url"), v.GetDuration("api-timeout"), log),
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn().Err(err).Msg("Failed to close local store")
	}
}

// commandContext bounds non-interactive commands.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 2*time.Minute)
}
