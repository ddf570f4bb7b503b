package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/internal/cache/rediscache"
	"github.com/MarkoPoloResearchLab/lifeblox/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/lifeblox/internal/httpapi"
	"github.com/MarkoPoloResearchLab/lifeblox/internal/logging"
	"github.com/MarkoPoloResearchLab/lifeblox/internal/metrics"
	"github.com/MarkoPoloResearchLab/lifeblox/internal/oplog"
	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lifeblox: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lifeblox",
		Short:         "Blood stock ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addPersistentFlags(cmd.PersistentFlags())
	cmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSweepCommand(),
		newRegisterBankCommand(),
		newQueryCommand(),
	)
	return cmd
}

// app holds what every subcommand needs once configuration is loaded.
type app struct {
	cfg     *runtimeConfig
	logger  *zap.Logger
	store   migratingStore
	cleanup []func() error
}

func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, closeLogger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		_ = closeLogger()
		return nil, fmt.Errorf("database open: %w", err)
	}
	return &app{cfg: cfg, logger: logger, store: store, cleanup: []func() error{closeStore, closeLogger}}, nil
}

func (application *app) Close() {
	for _, cleanup := range application.cleanup {
		_ = cleanup()
	}
}

func (application *app) newService(options ...ledger.ServiceOption) (*ledger.Service, error) {
	options = append([]ledger.ServiceOption{
		ledger.WithMaxAttempts(application.cfg.MaxAttempts),
		ledger.WithOperationLogger(oplog.New(application.logger)),
	}, options...)
	return ledger.NewService(application.store, time.Now, options...)
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and gRPC APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			application, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			return runServer(ctx, application)
		},
	}
	addServeFlags(cmd.Flags())
	return cmd
}

func runServer(ctx context.Context, application *app) error {
	if err := application.cfg.HTTP.Validate(); err != nil {
		return err
	}
	if err := application.store.Migrate(ctx); err != nil {
		return err
	}

	options := []ledger.ServiceOption{}
	var recorder *metrics.Recorder
	if application.cfg.Metrics {
		recorder = metrics.New()
		options = append(options, ledger.WithOperationLogger(recorder))
	}
	if application.cfg.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{application.cfg.RedisAddr},
			Password: application.cfg.RedisPassword,
			DB:       application.cfg.RedisDB,
		})
		defer func() { _ = client.Close() }()
		cache := rediscache.New(client, rediscache.WithTTL(application.cfg.CacheTTL))
		if err := cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		options = append(options, ledger.WithAvailabilityCache(cache))
		application.logger.Info("availability cache enabled", zap.String("redis_addr", application.cfg.RedisAddr))
	}
	service, err := application.newService(options...)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(application.cfg.HTTP.SessionSigningKey),
		Issuer:     application.cfg.HTTP.SessionIssuer,
		CookieName: application.cfg.HTTP.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	handler := httpapi.NewHandler(service, application.logger, recorder, application.cfg.HTTP)
	router := httpapi.NewRouter(application.cfg.HTTP, handler, validator)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Run(groupCtx, application.cfg.HTTP, router, application.logger)
	})
	if application.cfg.GRPCAddr != "" {
		authenticator, err := grpcserver.NewAuthenticator(application.cfg.HTTP.SessionSigningKey, application.cfg.HTTP.SessionIssuer)
		if err != nil {
			return err
		}
		lis, err := net.Listen("tcp", application.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
			grpcserver.LoggingInterceptor(application.logger),
			authenticator.UnaryInterceptor(),
		))
		grpcserver.Register(grpcServer, grpcserver.NewStockServiceServer(service))
		group.Go(func() error {
			return serveGRPC(groupCtx, grpcServer, lis, application.logger)
		})
	}
	return group.Wait()
}

func serveGRPC(ctx context.Context, grpcServer *grpc.Server, lis net.Listener, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", lis.Addr().String()))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			if err := application.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			application.logger.Info("schema ready", zap.String("store", application.cfg.Store))
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired stock batches from every blood bank",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			service, err := application.newService()
			if err != nil {
				return err
			}
			report, err := service.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]int{
				"accountsScanned": report.AccountsScanned,
				"accountsUpdated": report.AccountsUpdated,
				"batchesRemoved":  report.BatchesRemoved,
			})
		},
	}
}

func newRegisterBankCommand() *cobra.Command {
	var (
		profile  ledger.Profile
		city     string
		password string
	)
	cmd := &cobra.Command{
		Use:   "register-bank",
		Short: "Register a blood bank and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			if err := application.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			service, err := application.newService()
			if err != nil {
				return err
			}
			profile.City = ledger.City(city)
			account, err := service.RegisterBank(cmd.Context(), ledger.Registration{Profile: profile, Password: password})
			if err != nil {
				return fmt.Errorf("%s: %w", ledger.NewResult(err, "").Message, err)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"bankId":   account.ID.String(),
				"bankInfo": account.PublicInfo(),
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&profile.Name, "name", "", "blood bank name")
	flags.StringVar(&profile.Hospital, "hospital", "", "hospital name")
	flags.StringVar(&profile.Category, "category", "", "category (Government, Private, Charitable)")
	flags.StringVar(&profile.ContactPerson, "contact-person", "", "contact person")
	flags.StringVar(&profile.Email, "email", "", "contact email")
	flags.StringVar(&profile.ContactNo, "contact-no", "", "contact number")
	flags.StringVar(&profile.LicenseNo, "license-no", "", "licence number")
	flags.StringVar(&profile.Address, "address", "", "street address")
	flags.StringVar(&profile.Pincode, "pincode", "", "postal code")
	flags.StringVar(&city, "city", "", "city")
	flags.StringVar(&password, "password", "", "dashboard password")
	return cmd
}

func newQueryCommand() *cobra.Command {
	var (
		target    string
		component string
		bloodType string
		city      string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query stock availability from a running gRPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			conn, err := grpcserver.Dial(ctx, target)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			request, err := structpb.NewStruct(map[string]any{
				"bloodComponent": component,
				"bloodType":      bloodType,
				"city":           city,
			})
			if err != nil {
				return err
			}
			response, err := grpcserver.NewStockClient(conn).QueryAvailability(ctx, request)
			if err != nil {
				return err
			}
			payload, err := protojson.MarshalOptions{Multiline: true}.Marshal(response)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&target, "target", "localhost"+defaultGRPCAddr, "gRPC server address")
	flags.StringVar(&component, "component", "", "blood component filter")
	flags.StringVar(&bloodType, "blood-type", "", "blood type filter")
	flags.StringVar(&city, "city", "", "city filter")
	return cmd
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
