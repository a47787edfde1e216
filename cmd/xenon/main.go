// Command xenon runs the Xenon WebDriver proxy: a reverse proxy and
// session multiplexer speaking the W3C WebDriver wire protocol to clients,
// local driver binaries, and federated peer Xenon instances.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"xenon/config"
	xenonerrors "xenon/errors"
	xenonhttp "xenon/http"
	"xenon/logger"
	"xenon/services/reaper"
	"xenon/services/shutdown"
	"xenon/services/state"
)

const (
	defaultPort = 4444
	defaultCfg  = "xenon.yml"

	shutdownTimeout = 15 * time.Second
)

// CLI mirrors the flags of spec §6: --port/-p and --cfg/-c, each with
// an XENON_-prefixed environment fallback for parity with the config
// file's own env overlay.
type CLI struct {
	Port   int    `short:"p" help:"Port to listen on." default:"4444" env:"XENON_PORT"`
	Config string `name:"cfg" short:"c" help:"Path to the YAML config file." default:"xenon.yml" env:"XENON_CFG"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("xenon"),
		kong.Description("W3C WebDriver reverse proxy and session multiplexer."),
	)

	if cli.Port <= 1024 {
		fmt.Fprintf(os.Stderr, "invalid port %d: must be greater than 1024\n", cli.Port)
		os.Exit(1)
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Logger.Level, cfg.Logger.Encoding, cfg.Logger.File)
	defer logger.Logger.Sync()

	st := state.New(cfg.Browsers, cfg.Ports)

	if st.PortPoolSize() < st.MaxSessionsTotal() {
		logger.Warn("configured port pool is smaller than the sum of max_sessions across browsers; sessions may be refused under full load",
			zap.Int("pool_size", st.PortPoolSize()),
			zap.Int("max_sessions_total", st.MaxSessionsTotal()),
		)
	}

	for _, n := range cfg.Nodes {
		if _, err := st.RegisterNode(n); err != nil {
			logger.Error("failed to pre-register configured node", zap.String("url", n.URL), zap.Error(err))
		}
	}

	coordinator := shutdown.NewCoordinator(shutdownTimeout)

	idleReaper := reaper.NewIdleReaper(st)
	idleReaper.Start()
	coordinator.RegisterHandler("idle-reaper", func(ctx context.Context) error {
		idleReaper.Stop()
		return nil
	})

	if len(st.AllNodes()) > 0 {
		bootstrapper := reaper.NewNodeConfigBootstrapper(st)
		bootstrapper.Start()
		coordinator.RegisterHandler("node-config-bootstrapper", func(ctx context.Context) error {
			bootstrapper.Stop()
			return nil
		})
	}

	server := xenonhttp.NewServer(st, logger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	coordinator.RegisterHandler("http-server", func(shutdownCtx context.Context) error {
		cancel()
		return nil
	})
	coordinator.Start()

	addr := fmt.Sprintf(":%d", cli.Port)
	if err := server.Listen(ctx, addr); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		coordinator.Shutdown()
		os.Exit(exitCodeFor(err))
	}

	coordinator.WaitForShutdown()
}

// exitCodeFor maps a fatal startup/runtime error to a distinct process
// exit code, per spec §6's note that invalid-port and similar startup
// failures should be distinguishable in automation.
func exitCodeFor(err error) int {
	e, ok := err.(*xenonerrors.Error)
	if !ok {
		return 1
	}
	switch e.Kind {
	case xenonerrors.InvalidPort:
		return 2
	case xenonerrors.ConfigNotFound, xenonerrors.ConfigLoadError, xenonerrors.ConfigUnexpectedBrowser:
		return 3
	default:
		return 1
	}
}
