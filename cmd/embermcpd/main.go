// Command embermcpd runs the embedded MCP server: a length-framed socket
// listener that speaks JSON-RPC 2.0 to one or more clients, dispatching
// tools/call requests through a bounded async task engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/latchkey-labs/embermcp/internal/audit"
	"github.com/latchkey-labs/embermcp/internal/config"
	"github.com/latchkey-labs/embermcp/internal/logger"
	"github.com/latchkey-labs/embermcp/internal/metrics"
	"github.com/latchkey-labs/embermcp/internal/schedule"
	"github.com/latchkey-labs/embermcp/internal/session"
	"github.com/latchkey-labs/embermcp/internal/task"
	"github.com/latchkey-labs/embermcp/internal/tools"
	"github.com/latchkey-labs/embermcp/internal/transport"
	"github.com/latchkey-labs/embermcp/internal/validation"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Printf("embermcpd %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}
	runServer()
}

func printUsage() {
	fmt.Printf(`embermcpd %s - embedded MCP server

Usage: embermcpd [options]

Options:
  --dir <path>   Config and data directory (default: ~/.embermcp)
  --version      Print version and exit
`, Version)
}

func runServer() {
	dirFlag := flag.String("dir", "", "embermcp home directory (default: ~/.embermcp)")
	flag.Parse()

	homeDir := resolveHomeDir(*dirFlag)
	dataDir := filepath.Join(homeDir, "data")
	configDir := filepath.Join(homeDir, "config")

	cfg, err := config.LoadAll(configDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}

	logDir := cfg.Logging.Dir
	if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(dataDir, logDir)
	}
	if err := logger.Init(logDir); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Close() }()
	if err := logger.InitSlog(logDir, cfg.Logging.JSONOutput); err != nil {
		log.Fatalf("failed to initialize structured logger: %v", err)
	}
	defer func() { _ = logger.CloseSlog() }()

	logger.Printf("embermcpd %s starting", Version)
	logger.Printf("listen address: %s", cfg.Server.ListenAddr)

	auditStore, err := audit.NewStore(dataDir)
	if err != nil {
		log.Fatalf("failed to initialize audit database: %v", err)
	}
	defer func() { _ = auditStore.Close() }()
	auditLogger := audit.Default()
	auditLogger.AttachStore(auditStore)
	logger.Printf("audit database: %s/audit.db", dataDir)

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		log.Fatalf("failed to register built-in tools: %v", err)
	}
	if err := tools.RegisterSandboxExec(registry); err != nil {
		logger.Printf("sandbox_exec unavailable: %v", err)
	}
	logger.Printf("registered %d built-in tool(s)", len(registry.List()))

	engine := task.New(cfg.TaskEngineConfig(), task.Hooks{
		OnReject: metrics.RecordTaskRejected,
		OnComplete: func(st task.State, d time.Duration) {
			metrics.RecordTaskOutcome(st.String(), d.Seconds())
		},
	})

	manager := session.NewManager()

	listener, err := transport.Listen(transport.ListenOptions{
		Network:    "tcp",
		Address:    cfg.Server.ListenAddr,
		ConnConfig: cfg.TransportConfig(),
	})
	if err != nil {
		log.Fatalf("failed to bind listener: %v", err)
	}
	defer func() { _ = listener.Close() }()
	logger.Printf("accepting connections on %s", listener.Addr())

	sched := schedule.New(schedule.DefaultConfig(), manager, engine, metrics.Sink{}, auditStore)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	registerCustomJobs(sched, cfg.Schedule.CustomJobs)

	acceptLimiter := transport.NewAcceptLimiter(cfg.Transport.RateLimitPerSecond, cfg.Transport.RateLimitBurst)

	metricsSrv := startMetricsServer(cfg.Server.MetricsAddr)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	var accepting atomic.Bool
	accepting.Store(true)
	acceptErrCh := make(chan error, 1)
	go acceptLoop(listener, &accepting, acceptLimiter, registry, engine, manager, cfg, auditLogger, acceptErrCh)

	select {
	case err := <-acceptErrCh:
		logger.Printf("listener error: %v", err)
	case sig := <-shutdownCh:
		logger.Printf("received signal %v, shutting down", sig)
	}

	accepting.Store(false)
	_ = listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	manager.Shutdown()
	engine.Shutdown(5 * time.Second)
	sched.Stop(ctx)
	_ = metricsSrv.Shutdown(ctx)

	logger.Println("shutdown complete")
}

func acceptLoop(l *transport.Listener, accepting *atomic.Bool, limiter *transport.AcceptLimiter, registry *tools.Registry, engine *task.Engine, manager *session.Manager, cfg *config.UnifiedConfig, auditLogger *audit.Logger, errCh chan<- error) {
	for {
		t, err := l.Accept(0)
		if err != nil {
			if !accepting.Load() {
				return
			}
			errCh <- err
			return
		}

		if !limiter.Allow(t.RemoteAddr()) {
			logger.Printf("rejecting connection from %s: accept rate exceeded", t.RemoteAddr())
			_ = t.Close()
			continue
		}

		id := uuid.New().String()
		if err := validation.ValidateConnectionID(id); err != nil {
			logger.Printf("generated connection id failed validation, rejecting connection from %s: %v", t.RemoteAddr(), err)
			_ = t.Close()
			continue
		}
		sess := session.New(id, t, registry, engine, cfg.SessionConfig(), sessionHooks(id, auditLogger))
		manager.Register(sess)

		go func() {
			defer manager.Unregister(id)
			if err := sess.Run(context.Background()); err != nil {
				logger.DebugContext(context.Background(), "session ended with error", "session", id, "err", err)
			}
		}()
	}
}

// registerCustomJobs adds every operator-defined job from embermcp.jsonc's
// schedule.custom_jobs section to sched. A job that fails to register (bad
// cron expression) is logged and skipped rather than aborting startup.
func registerCustomJobs(sched *schedule.Scheduler, jobs []config.CustomJobConfig) {
	for _, job := range jobs {
		name := job.Name
		if err := sched.RegisterJob(name, job.Cron, func() {
			logger.Printf("custom maintenance job %q fired", name)
		}); err != nil {
			logger.Printf("failed to register custom job %q: %v", name, err)
		}
	}
}

func sessionHooks(sessionID string, auditLogger *audit.Logger) session.Hooks {
	return session.Hooks{
		OnStateChange: func(from, to session.State) {
			auditLogger.LogStateChange(sessionID, from.String(), to.String())
		},
		OnToolCall: func(name string) {
			metrics.RecordToolCall(name, "dispatched")
		},
		OnToolCallComplete: func(requestID, name string, success bool, err error) {
			auditLogger.LogToolCall(sessionID, requestID, name, success, err)
		},
		OnSessionEnd: func(reason string, duration time.Duration) {
			metrics.RecordSessionEnd(reason, duration.Seconds())
		},
	}
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server error: %v", err)
		}
	}()
	logger.Printf("metrics exposed on http://%s/metrics", addr)
	return srv
}

func resolveHomeDir(dirFlag string) string {
	if dirFlag != "" {
		return dirFlag
	}
	if env := os.Getenv("EMBERMCP_HOME"); env != "" {
		return env
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".embermcp")
	}
	return ".embermcp"
}
