package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yeremiapane/table-order/config"
	"github.com/yeremiapane/table-order/database"
	"github.com/yeremiapane/table-order/kds"
	"github.com/yeremiapane/table-order/metrics"
	"github.com/yeremiapane/table-order/router"
	"github.com/yeremiapane/table-order/services"
	"github.com/yeremiapane/table-order/utils"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "table-order",
		Short:         "Table-side ordering service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newTableCommand())
	cmd.AddCommand(newHashSecretCommand())
	return cmd
}

// setup loads config, initializes logging and opens the database.
func setup() (*config.Config, *gorm.DB, error) {
	cfg := config.Load()
	utils.InitLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	utils.InfoLogger.WithField("driver", cfg.DBDriver).Info("database connected")
	return cfg, db, nil
}

func newServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup()
			if err != nil {
				return err
			}
			if migrate {
				if err := database.Migrate(db); err != nil {
					return err
				}
			}
			return serve(cmd.Context(), cfg, db)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply schema migrations before serving")
	return cmd
}

func serve(parent context.Context, cfg *config.Config, db *gorm.DB) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.GinMode)
	m := metrics.New()

	hubOpts := []kds.HubOption{kds.WithHeartbeat(cfg.HeartbeatInterval), kds.WithMetrics(m)}
	if cfg.RedisURL != "" {
		relay, err := kds.NewRedisRelayFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer relay.Close()
		hubOpts = append(hubOpts, kds.WithRelay(relay))
	}
	hub := kds.NewHub(hubOpts...)
	go hub.Run(ctx)

	sink, err := services.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaExportTopic)
	if err != nil {
		return err
	}
	exports := services.NewExportDispatcher(sink, cfg.ExportBuffer, m)
	exports.Start(context.Background())
	defer exports.Stop()

	slugs, err := utils.NewSlugEncoder(cfg.TableSlugSalt, cfg.TableSlugMinLength)
	if err != nil {
		return err
	}

	policy := services.RetryPolicy{
		MaxRetries: uint64(cfg.TxRetries),
		MinDelay:   cfg.TxRetryMin,
		MaxDelay:   cfg.TxRetryMax,
	}
	sessionCfg := services.SessionConfig{
		AbsTTL:         cfg.SessionAbsTTL,
		IdleTTL:        cfg.SessionIdleTTL,
		TokenBytes:     cfg.SessionTokenBytes,
		SharedCode:     cfg.SharedCode,
		SharedCodeHash: cfg.SharedCodeHash,
	}

	r := router.SetupRouter(router.Deps{
		Sessions:     services.NewSessionService(db, sessionCfg, policy, m),
		Orders:       services.NewOrderService(db, policy, hub, m),
		Status:       services.NewStatusService(db, policy, hub, m),
		Query:        services.NewOrderQuery(db),
		Board:        services.NewBoardService(db, cfg.UrgentAfter),
		Tables:       services.NewTableService(db, slugs, cfg.FrontendBaseURL),
		Hub:          hub,
		Export:       exports,
		Issuer:       utils.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiresIn),
		Metrics:      m,
		AdminPinHash: cfg.AdminPinHash,
		CORSOrigins:  cfg.CORSOrigins,
		RateLimitRPS: cfg.RateLimitRPS,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.InfoLogger.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	utils.InfoLogger.Println("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMigrateCommand() *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := setup()
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			if seed {
				return database.SeedProducts(db, database.DemoProducts())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "Insert the demo catalog when no products exist")
	return cmd
}

func newTableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Table and QR token administration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newTableEnsureCommand())
	cmd.AddCommand(newTableRotateCommand())
	return cmd
}

func tableService() (*services.TableService, error) {
	cfg, db, err := setup()
	if err != nil {
		return nil, err
	}
	slugs, err := utils.NewSlugEncoder(cfg.TableSlugSalt, cfg.TableSlugMinLength)
	if err != nil {
		return nil, err
	}
	return services.NewTableService(db, slugs, cfg.FrontendBaseURL), nil
}

func newTableEnsureCommand() *cobra.Command {
	var (
		label    string
		inactive bool
		shared   bool
	)

	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create a table by label if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := tableService()
			if err != nil {
				return err
			}
			in := services.EnsureTableInput{Label: label}
			if cmd.Flags().Changed("inactive") {
				active := !inactive
				in.Active = &active
			}
			if cmd.Flags().Changed("shared") {
				exclusive := !shared
				in.Exclusive = &exclusive
			}
			out, err := svc.EnsureTable(context.Background(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "table %d %q slug=%s created=%t\n%s\n",
				out.Table.ID, out.Table.Label, out.Table.Slug, out.Created, out.SlugURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Table label, e.g. T3")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Mark the table inactive")
	cmd.Flags().BoolVar(&shared, "shared", false, "Allow concurrent sessions (takeout counters)")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}

func newTableRotateCommand() *cobra.Command {
	var (
		tableID uint
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "rotate-token",
		Short: "Revoke a table's QR token and issue a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := tableService()
			if err != nil {
				return err
			}
			out, err := svc.RotateToken(context.Background(), tableID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "table %d revoked=%d\n%s\n%s\n", out.TableID, out.Revoked, out.TokenURL, out.SlugURL)
			return nil
		},
	}

	cmd.Flags().UintVar(&tableID, "id", 0, "Table id")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime, e.g. 720h (0 = no expiry)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newHashSecretCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret <secret>",
		Short: "Print a bcrypt hash for ADMIN_PIN_HASH or SESSION_SHARED_CODE_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := strings.TrimSpace(args[0])
			if secret == "" {
				return errors.New("secret must not be empty")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
}
