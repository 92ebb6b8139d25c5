package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ashureev/cypherguy/internal/api"
	"github.com/ashureev/cypherguy/internal/auth"
	"github.com/ashureev/cypherguy/internal/chat"
	"github.com/ashureev/cypherguy/internal/compute"
	"github.com/ashureev/cypherguy/internal/config"
	"github.com/ashureev/cypherguy/internal/executor"
	"github.com/ashureev/cypherguy/internal/identity"
	"github.com/ashureev/cypherguy/internal/intake"
	"github.com/ashureev/cypherguy/internal/market"
	"github.com/ashureev/cypherguy/internal/middleware"
	"github.com/ashureev/cypherguy/internal/pipeline"
	"github.com/ashureev/cypherguy/internal/policy"
	"github.com/ashureev/cypherguy/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc"
)

// deps are the long-lived components shared by the service routers.
type deps struct {
	repo       store.Repository
	auth       *auth.Authenticator
	evaluator  *policy.Evaluator
	engine     *compute.Engine
	executor   *executor.Executor
	classifier chat.TextClassifier
	transcript chat.TranscriptLogger
	limiter    *intake.RateLimiter
}

// services holds one router per pipeline service.
type services struct {
	intake   http.Handler
	policy   http.Handler
	compute  http.Handler
	executor http.Handler
	conns    *intake.Connections
}

// buildServices wires the four services. With SERVICE=all the stages call
// each other in-process; otherwise each hop goes over HTTP to the configured URL.
func buildServices(cfg *config.Config, d deps) *services {
	inProcess := cfg.Service == config.ServiceAll

	executorHandler := executor.NewHandler(d.executor, cfg.Solana.Lamports)

	var toExecutor pipeline.Stage = executorHandler
	if !inProcess {
		toExecutor = pipeline.NewExecutorStage(cfg.ExecutorURL, cfg.HTTPTimeout)
	}
	computeHandler := compute.NewHandler(d.engine, toExecutor)

	var toCompute pipeline.Stage = computeHandler
	if !inProcess {
		toCompute = pipeline.NewComputeStage(cfg.ComputeURL, cfg.HTTPTimeout)
	}
	policyHandler := policy.NewHandler(d.evaluator, toCompute)

	var toPolicy pipeline.Stage = policyHandler
	if !inProcess {
		toPolicy = pipeline.NewPolicyStage(cfg.PolicyURL, cfg.HTTPTimeout)
	}
	intakeService := intake.NewService(d.auth, d.repo, toPolicy)
	protocol := chat.NewProtocol(chat.NewClassifier(d.classifier), d.repo)
	if d.transcript != nil {
		protocol.Transcript = d.transcript
	}
	intakeHandler := intake.NewHandler(intakeService, d.auth, protocol, d.repo, d.limiter)
	conns := intake.NewConnections()
	messages := intake.NewMessageHandler(intakeHandler, conns, cfg.MessageSilentDrop, cfg.CORSOrigins)

	s := &services{conns: conns}

	r := newRouter(cfg, config.ServiceIntake, map[string]api.Pinger{"store": d.repo})
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(d.auth))
		intakeHandler.RegisterRoutes(r)
		r.Get("/ws", messages.ServeHTTP)
	})
	s.intake = r

	r = newRouter(cfg, config.ServicePolicy, nil)
	policyHandler.RegisterRoutes(r)
	s.policy = r

	r = newRouter(cfg, config.ServiceCompute, nil)
	computeHandler.RegisterRoutes(r)
	s.compute = r

	r = newRouter(cfg, config.ServiceExecutor, nil)
	executorHandler.RegisterRoutes(r)
	s.executor = r

	return s
}

func newRouter(cfg *config.Config, service string, checks map[string]api.Pinger) chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	api.NewHealthHandler(service, checks).RegisterHealth(r)
	return r
}

// openStore selects the repository backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		return store.NewSQLite(cfg.DBPath)
	case config.StoreBolt:
		return store.NewBolt(cfg.DBPath)
	case config.StorePostgres:
		return store.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return store.NewMemory(), nil
	}
}

// newEvaluator loads the rule tables and, when a rule file is configured,
// compiles its expressions into the interpreter.
func newEvaluator(cfg *config.Config) (*policy.Evaluator, error) {
	if cfg.PolicyRulesPath == "" {
		return policy.NewEvaluator(policy.DefaultRules(), nil), nil
	}
	rules, err := policy.LoadRules(cfg.PolicyRulesPath)
	if err != nil {
		return nil, err
	}
	interp, err := policy.NewExprInterpreter(rules.Expressions)
	if err != nil {
		return nil, err
	}
	slog.Info("policy rules loaded", "path", cfg.PolicyRulesPath)
	return policy.NewEvaluator(rules, interp), nil
}

// newEngine builds the compute engine. Enrichment needs both sources.
func newEngine(cfg *config.Config) *compute.Engine {
	return compute.NewEngine(
		market.NewJupiterPrices(cfg.PriceAPIURL, cfg.PriceFallbackOnly),
		market.NewSolanaBalances(cfg.Solana.RPCURL),
		nil,
	)
}

// newClassifier returns the external text classifier, or nil when none is
// configured. The returned func releases its resources.
func newClassifier(cfg *config.Config, logger *slog.Logger) (chat.TextClassifier, func()) {
	if cfg.ClassifierAddr != "" {
		c, err := chat.NewGRPCClassifier(chat.DefaultGRPCClassifierConfig(cfg.ClassifierAddr), logger)
		if err == nil {
			slog.Info("intent classifier connected", "address", cfg.ClassifierAddr)
			return c, c.Close
		}
		slog.Warn("intent classifier unavailable, falling back", "address", cfg.ClassifierAddr, "error", err)
	}
	if cfg.PerplexityAPIKey != "" {
		slog.Info("using perplexity intent classifier")
		return chat.NewPerplexityClassifier(cfg.PerplexityAPIKey), func() {}
	}
	slog.Info("no external intent classifier configured, keyword matching only")
	return nil, func() {}
}

// serveClassifier exposes the keyword classifier (with the perplexity
// fallback when configured) over gRPC until ctx is done.
func serveClassifier(ctx context.Context, cfg *config.Config) error {
	lis, err := net.Listen("tcp", cfg.ClassifierListen)
	if err != nil {
		return fmt.Errorf("listen classifier: %w", err)
	}

	var backend chat.TextClassifier = chat.KeywordClassifier{}
	if cfg.PerplexityAPIKey != "" {
		backend = chat.KeywordClassifier{Fallback: chat.NewPerplexityClassifier(cfg.PerplexityAPIKey)}
	}
	srv := grpc.NewServer()
	chat.RegisterClassifierServer(srv, backend)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	go func() {
		slog.Info("intent classifier listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			slog.Error("intent classifier stopped", "error", err)
		}
	}()
	return nil
}

// httpServers returns the servers this process should run.
func httpServers(cfg *config.Config, s *services) []*http.Server {
	var out []*http.Server
	add := func(service, port string, h http.Handler) {
		if !cfg.Runs(service) {
			return
		}
		out = append(out, &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// No write timeout: /ws connections are long lived.
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		})
	}
	add(config.ServiceIntake, cfg.IntakePort, s.intake)
	add(config.ServicePolicy, cfg.PolicyPort, s.policy)
	add(config.ServiceCompute, cfg.ComputePort, s.compute)
	add(config.ServiceExecutor, cfg.ExecutorPort, s.executor)
	return out
}
