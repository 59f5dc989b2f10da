package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-pr-approvals/internal/auth"
	"github.com/pesio-ai/be-pr-approvals/internal/client"
	"github.com/pesio-ai/be-pr-approvals/internal/config"
	"github.com/pesio-ai/be-pr-approvals/internal/database"
	"github.com/pesio-ai/be-pr-approvals/internal/handler"
	"github.com/pesio-ai/be-pr-approvals/internal/hierarchy"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	"github.com/pesio-ai/be-pr-approvals/internal/middleware"
	pb "github.com/pesio-ai/be-pr-approvals/internal/proto/approvalsv1"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
	"github.com/pesio-ai/be-pr-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-pr-approvals/internal/service"
)

// repositories is the storage backend selected by configuration.
type repositories struct {
	employees   service.EmployeeRepositoryInterface
	branches    service.BranchRepositoryInterface
	rules       service.RulesRepositoryInterface
	requests    service.PurchaseRequestRepositoryInterface
	assignments service.AssignmentRepositoryInterface
	history     service.HistoryRepositoryInterface
	plans       service.PlanRepositoryInterface
	close       func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("storage", cfg.Storage).
		Msg("Starting PR Approval Engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer repos.close()

	// Event bus
	var publisher *client.NotificationPublisher
	if cfg.NATS.URL != "" {
		nc, err := client.Connect(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		publisher = client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log)
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set; purchase request events will not be published")
	}

	// Hierarchy snapshot
	holder := hierarchy.NewHolder(repos.employees, repos.branches, log)
	res, err := holder.Rebuild(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build initial hierarchy")
	}
	log.Info().
		Int("employees", res.Size()).
		Int("anomalies", len(res.Anomalies())).
		Msg("Hierarchy resolved")

	// Initialize services
	ruleService := service.NewRuleService(repos.rules, log)
	router := service.NewRouter(holder, ruleService, log)
	requestService := service.NewPurchaseRequestService(
		repos.requests, repos.assignments, repos.history, repos.plans, repos.employees,
		holder, router, service.NewStateMachine(), publisher, log,
	)
	orgService := service.NewOrganizationService(repos.employees, repos.branches, holder, log)

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Service.Environment == "development")
	if authenticator.DevMode() {
		log.Warn().Msg("JWT_SECRET not set; trusting X-Employee-Code headers (development only)")
	}

	// Setup HTTP routes
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	handler.NewHTTPHandler(requestService, ruleService, orgService, log).Register(r)

	// Apply middleware
	var h http.Handler = r
	h = middleware.Authenticate(authenticator, "/health")(h)
	h = middleware.Timeout(30 * time.Second)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.RequestID(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(
		authenticator.UnaryServerInterceptor("/grpc.health.v1.Health/", "/grpc.reflection."),
	))
	handler.RegisterApprovalEngineServer(grpcServer, handler.NewGRPCHandler(requestService, ruleService, orgService, log))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(pb.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer) // Enable reflection for debugging

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	if cfg.HierarchyRefresh > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.HierarchyRefresh)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					holder.RebuildAsync()
				}
			}
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		holder.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}

func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*repositories, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		prs := memory.NewPurchaseRequestRepository()
		return &repositories{
			employees:   memory.NewEmployeeRepository(),
			branches:    memory.NewBranchRepository(),
			rules:       memory.NewRulesRepository(),
			requests:    prs,
			assignments: prs,
			history:     prs,
			plans:       prs,
			close:       func() {},
		}, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")

	return &repositories{
		employees:   repository.NewEmployeeRepository(db),
		branches:    repository.NewBranchRepository(db),
		rules:       repository.NewApprovalRulesRepository(db),
		requests:    repository.NewPurchaseRequestRepository(db),
		assignments: repository.NewAssignmentRepository(db),
		history:     repository.NewApprovalHistoryRepository(db),
		plans:       repository.NewApprovalPlanRepository(db),
		close:       db.Close,
	}, nil
}
