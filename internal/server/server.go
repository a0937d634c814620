// ABOUTME: Server orchestrator wiring the store, bot engine, worker pool and chat frontends
// ABOUTME: Runs the admin HTTP API and gRPC health service over TCP or Tailscale until shut down

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/taskbot/internal/auth"
	"github.com/2389/taskbot/internal/bot"
	"github.com/2389/taskbot/internal/config"
	"github.com/2389/taskbot/internal/dedupe"
	"github.com/2389/taskbot/internal/matrix"
	"github.com/2389/taskbot/internal/store"
	"github.com/2389/taskbot/internal/telegram"
)

// healthService is the name reported by the gRPC health service for the bot.
const healthService = "taskbot"

// frontend is a running chat transport.
type frontend struct {
	name string
	run  func(ctx context.Context) error
}

// Server owns every long-running component of the bot.
type Server struct {
	config *config.Config
	store  store.Store
	engine *bot.Engine
	pool   *bot.Pool
	dedupe *dedupe.Cache

	frontends []frontend

	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server

	// ready is set once every frontend has been started
	ready atomic.Bool

	logger *slog.Logger
}

// initStore opens the SQLite store named by the config. TASKBOT_DB_PATH
// overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TASKBOT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	dbPath, err := config.ExpandPath(dbPath)
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

func newGRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
}

// New builds a Server from cfg. Nothing listens or polls until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	srv, err := newServer(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return srv, nil
}

// newServer wires the components around an open store.
func newServer(cfg *config.Config, s store.Store, logger *slog.Logger) (*Server, error) {
	srv := &Server{
		config: cfg,
		store:  s,
		logger: logger.With("component", "server"),
	}

	gateways := bot.NewGatewayMux()
	if err := srv.initFrontends(gateways, logger); err != nil {
		return nil, err
	}

	engine, err := bot.NewEngine(bot.Deps{
		Users:       s,
		Tasks:       s,
		Comments:    s,
		Sprints:     s,
		Credentials: auth.NewPasswordVerifier(s),
		Gateway:     gateways,
		Recorder:    s,
	}, bot.Options{
		AllowUserPicker: cfg.Bot.AllowUserPicker,
		SendTimeout:     cfg.Bot.SendTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating bot engine: %w", err)
	}
	srv.engine = engine

	srv.dedupe = dedupe.New(cfg.Bot.DedupeTTL, cfg.Bot.DedupeMaxEntries)
	srv.pool = bot.NewPool(engine, srv.dedupe, bot.PoolConfig{
		Workers:   cfg.Bot.Workers,
		QueueSize: cfg.Bot.QueueSize,
	}, logger)

	srv.grpcServer = newGRPCServer()
	srv.healthServer = health.NewServer()
	srv.healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv.grpcServer, srv.healthServer)

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		srv.logger.Warn("admin API authentication disabled - no jwt_secret configured")
	}
	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.routes(verifier),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// initFrontends creates the enabled chat adapters and registers them as
// outbound gateways.
func (s *Server) initFrontends(gateways *bot.GatewayMux, logger *slog.Logger) error {
	if tg := s.config.Frontends.Telegram; tg.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token:       tg.Token,
			APIURL:      tg.APIURL,
			PollTimeout: tg.PollTimeout,
		}, logger)
		if err != nil {
			return err
		}
		gateways.Register(telegram.Frontend, adapter)
		s.frontends = append(s.frontends, frontend{
			name: telegram.Frontend,
			run: func(ctx context.Context) error {
				return adapter.Run(ctx, s.pool)
			},
		})
	}

	if mx := s.config.Frontends.Matrix; mx.Enabled {
		adapter, err := matrix.NewAdapter(matrix.Config{
			Homeserver:   mx.Homeserver,
			UserID:       mx.UserID,
			AccessToken:  mx.AccessToken,
			Username:     mx.Username,
			Password:     mx.Password,
			RecoveryKey:  mx.RecoveryKey,
			CryptoDir:    mx.CryptoDir,
			AllowedRooms: mx.AllowedRooms,
		}, logger)
		if err != nil {
			return err
		}
		gateways.Register(matrix.Frontend, adapter)
		s.frontends = append(s.frontends, frontend{
			name: matrix.Frontend,
			run: func(ctx context.Context) error {
				if err := adapter.Login(ctx); err != nil {
					return err
				}
				return adapter.Run(ctx, s.pool)
			},
		})
	}

	return nil
}

// Engine returns the conversation engine.
func (s *Server) Engine() *bot.Engine {
	return s.engine
}

// grpcEnabled reports whether the health service gets a listener.
func (s *Server) grpcEnabled() bool {
	return s.config.Tailscale.Enabled || s.config.Server.GRPCAddr != ""
}

func (s *Server) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	s.logger.Info("starting taskbot",
		"grpc_addr", s.config.Server.GRPCAddr,
		"http_addr", s.config.Server.HTTPAddr,
	)

	if s.grpcEnabled() {
		grpcLn, err = net.Listen("tcp", s.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (s *Server) warnIgnoredAddresses() {
	if s.config.Server.GRPCAddr != "" || s.config.Server.HTTPAddr != "" {
		s.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", s.config.Server.GRPCAddr,
			"http_addr", s.config.Server.HTTPAddr,
		)
	}
}

func (s *Server) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if s.config.Tailscale.Enabled {
		s.warnIgnoredAddresses()
		return s.setupTailscaleListeners(ctx)
	}
	return s.setupTCPListeners()
}

// startServers starts the network servers and frontends. Every goroutine
// reports a failure on the returned channel.
func (s *Server) startServers(ctx context.Context, grpcLn, httpLn net.Listener, frontends *sync.WaitGroup) chan error {
	errCh := make(chan error, 2+len(s.frontends))

	if grpcLn != nil {
		go func() {
			s.logger.Info("gRPC health service listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	for _, fe := range s.frontends {
		frontends.Add(1)
		go func() {
			defer frontends.Done()
			s.logger.Info("frontend started", "frontend", fe.name)
			if err := fe.run(ctx); err != nil {
				errCh <- fmt.Errorf("%s frontend: %w", fe.name, err)
				return
			}
			s.logger.Info("frontend stopped", "frontend", fe.name)
		}()
	}

	s.ready.Store(true)
	s.healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		s.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (s *Server) drainErrors(errCh chan error) {
	for {
		select {
		case additionalErr := <-errCh:
			s.logger.Error("additional server error", "error", additionalErr)
		default:
			return
		}
	}
}

// Run starts serving and blocks until ctx is canceled or a component fails.
// Queued chat events are still handled during shutdown.
func (s *Server) Run(ctx context.Context) error {
	grpcListener, httpListener, err := s.setupListeners(ctx)
	if err != nil {
		return err
	}

	// workers outlive ctx so queued events are answered during shutdown
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	s.pool.Start(workCtx)

	frontendCtx, cancelFrontends := context.WithCancel(ctx)
	defer cancelFrontends()

	var frontends sync.WaitGroup
	errCh := s.startServers(frontendCtx, grpcListener, httpListener, &frontends)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	s.ready.Store(false)
	s.healthServer.Shutdown()
	cancelFrontends()
	frontends.Wait()
	s.pool.Stop()

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return config.ExpandPath(configured)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "taskbot", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListeners joins the tailnet and listens on :50051 for gRPC
// health and :80 for HTTP.
func (s *Server) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = s.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = grpcLn.Close()
		_ = s.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers and releases the store. Run calls it; call it
// directly only for a Server that was never run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down taskbot")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.shutdownGRPCServer(ctx)
	s.pool.Stop()

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	if s.dedupe != nil {
		s.dedupe.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
