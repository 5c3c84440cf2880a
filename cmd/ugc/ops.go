package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"ugchub/internal/app"
	"ugchub/internal/config"
	"ugchub/internal/domain"
	"ugchub/internal/migrate"
	"ugchub/internal/server"
	"ugchub/internal/sweep"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				v, err := migrate.Version(s.DB)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", s.Dialect, v)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var basePath string
	var devTokens bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			s, err := app.Open(ctx, app.Options{
				Workspace: viper.GetString("workspace"),
				Overrides: viper.GetViper(),
				Connect:   true,
				Migrate:   true,
			})
			if err != nil {
				return err
			}
			defer s.Close()
			cfg := s.Config
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret (UGCHUB_AUTH_JWT_SECRET) is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   s.Engine,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret: cfg.Auth.JWTSecret,
					Issuer:    cfg.Auth.Issuer,
					DevTokens: devTokens,
					Logger:    s.Logger,
				},
				Metrics:      s.Metrics,
				Onboarding:   s.Onboarding,
				PollInterval: cfg.Realtime.PollInterval,
				Logger:       s.Logger,
			})
			if err != nil {
				return err
			}

			if cfg.Sweep.Enabled {
				sched, err := sweep.New(cfg.Sweep.Schedule, s.Engine.SweepOverdue, s.Logger.Named("sweep"))
				if err != nil {
					return err
				}
				sched.Start()
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					sched.Stop(stopCtx)
				}()
			}

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			s.Logger.Info("serving UGC Hub API",
				zap.String("addr", cfg.Server.Addr),
				zap.String("base_path", basePath),
				zap.String("database", s.Dialect),
				zap.Bool("sweep", cfg.Sweep.Enabled),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Serving UGC Hub API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("redis-addr", "", "redis address; enables the redis realtime broker")
	cmd.Flags().String("amqp-url", "", "RabbitMQ URL for outbound events")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devTokens, "dev-tokens", false, "enable POST <base>/dev/token (local use only)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("realtime.redis_addr", cmd.Flags().Lookup("redis-addr"))
	_ = viper.BindPFlag("amqp.url", cmd.Flags().Lookup("amqp-url"))
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("redis-addr") {
			viper.Set("realtime.broker", "redis")
		}
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Show or create ugchub.yml"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := cfg.ApplyOverrides(viper.GetViper()); err != nil {
				return err
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "********"
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default ugchub.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)
	return cfgCmd
}

func sweepCmd() *cobra.Command {
	sw := &cobra.Command{Use: "sweep", Short: "Overdue deliverable sweep"}
	sw.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Report overdue deliverables once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				sched, err := sweep.New(s.Config.Sweep.Schedule, s.Engine.SweepOverdue, s.Logger.Named("sweep"))
				if err != nil {
					return err
				}
				n, err := sched.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d newly overdue deliverable(s) reported\n", n)
				return nil
			})
		},
	})
	return sw
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for --actor-id/--role (local use only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := cfg.ApplyOverrides(viper.GetViper()); err != nil {
				return err
			}
			a := actor()
			tok, err := server.SignToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, a.ID, a.Role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor-id/--role; the raw key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := actor()
			if a.Role != domain.RoleCreator && a.Role != domain.RoleAnalyst {
				return fmt.Errorf("--role must be creator or analyst")
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				key, raw, err := s.Engine.CreateAPIKey(ctx, a.ID, a.Role, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), map[string]any{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"role":     key.Role,
					"name":     key.Name,
					"key":      raw,
				})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	keys.AddCommand(create)

	keys.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys of --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.Repo.ListAPIKeys(ctx, actor().ID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, k := range items {
					rows = append(rows, table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				return printTable(cmd.OutOrStdout(), items, table.Row{"ID", "Actor", "Role", "Name", "Created"}, rows)
			})
		},
	})

	keys.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Engine.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "revoked", args[0])
				return nil
			})
		},
	})
	return keys
}
