// Command counselmesh runs the turn orchestration service: an HTTP/SSE
// front end over the per-turn engine, with pluggable model provider and
// storage backend.
package main

import (
	"fmt"
	"net/http"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/engine"
	"github.com/counselmesh/counselmesh/logging"
	"github.com/counselmesh/counselmesh/match"
	"github.com/counselmesh/counselmesh/metrics"
	"github.com/counselmesh/counselmesh/model"
	"github.com/counselmesh/counselmesh/model/anthropic"
	"github.com/counselmesh/counselmesh/model/openai"
	"github.com/counselmesh/counselmesh/store"
	"github.com/counselmesh/counselmesh/transport"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "counselmesh",
		Short:         "Empathetic legal-help turn orchestration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

type serveFlags struct {
	addr       string
	configPath string
	provider   string
	modelName  string
	storeKind  string
	redisAddr  string
	logLevel   string
	logFormat  string
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/SSE service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&flags.provider, "provider", "anthropic", "model provider: anthropic, openai or mock")
	cmd.Flags().StringVar(&flags.modelName, "model", "", "model name override")
	cmd.Flags().StringVar(&flags.storeKind, "store", "memory", "storage backend: memory or redis")
	cmd.Flags().StringVar(&flags.redisAddr, "redis-addr", "localhost:6379", "redis address for --store redis")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "json", "log format: json or text")
	return cmd
}

func serve(flags *serveFlags) error {
	logger := logging.New(&logging.Config{
		Level:     parseLevel(flags.logLevel),
		Format:    flags.logFormat,
		Component: "counselmesh",
	})

	cfg := engine.DefaultConfig()
	if flags.configPath != "" {
		var err error
		if cfg, err = engine.LoadConfig(flags.configPath); err != nil {
			return err
		}
	}

	llm, err := buildModel(flags)
	if err != nil {
		return err
	}

	convStore, profileStore, err := buildStores(flags)
	if err != nil {
		return err
	}

	m := metrics.New()
	eng, err := engine.New(llm,
		engine.WithConfig(cfg),
		engine.WithLogger(logger.WithComponent("engine")),
		engine.WithMetrics(m),
		engine.WithConversationStore(convStore),
		engine.WithProfileStore(profileStore),
		engine.WithMatcher(match.NewStaticMatcher(match.DemoDirectory()...)),
		engine.WithSearchIndex(store.NewMemoryIndex()),
	)
	if err != nil {
		return err
	}

	srv := transport.NewServer(eng, func(o *transport.Options) {
		o.Logger = logger.WithComponent("http")
		o.Metrics = m
	})

	logger.Info("listening on %s (provider=%s store=%s)", flags.addr, flags.provider, flags.storeKind)
	return http.ListenAndServe(flags.addr, srv.Router())
}

func buildModel(flags *serveFlags) (model.Model, error) {
	switch flags.provider {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if flags.modelName != "" {
				o.Model = anthropicsdk.Model(flags.modelName)
			}
		}), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if flags.modelName != "" {
				o.Model = flags.modelName
			}
		}), nil
	case "mock":
		return &model.Mock{Fallback: "I hear you. Tell me more about what's going on."}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", flags.provider)
	}
}

func buildStores(flags *serveFlags) (core.ConversationStore, core.ProfileStore, error) {
	switch flags.storeKind {
	case "memory":
		mem := store.NewMemoryStore()
		return mem, mem, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: flags.redisAddr})
		rs := store.NewRedisStore(client)
		return rs, rs, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", flags.storeKind)
	}
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
