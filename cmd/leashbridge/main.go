package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("LeashBridge v%s\n", version)
	fmt.Println("VRChat leash locomotion daemon (OSC)")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  leashbridge [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Listens for the leash avatar parameters VRChat sends over OSC and")
	fmt.Println("  drives avatar movement (/input/*) while the leash is grabbed and")
	fmt.Println("  stretched. Optionally counts the time spent being pulled.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (reloaded on change)")
	fmt.Println()
	fmt.Println("  -osc-listen string")
	fmt.Printf("        UDP address to receive VRChat OSC on (default %q)\n", defaultOSCListenAddr)
	fmt.Println()
	fmt.Println("  -osc-send string")
	fmt.Printf("        UDP address of VRChat's OSC input (default %q)\n", defaultOSCSendAddr)
	fmt.Println()
	fmt.Println("  -leash")
	fmt.Println("        Run the leash loop at startup (default true)")
	fmt.Println()
	fmt.Println("  -calculator string")
	fmt.Println("        Movement calculator: location|stretch|combined (default \"location\")")
	fmt.Println()
	fmt.Println("  -reset-on-null-input")
	fmt.Println("        Toggle Leash_Enabled when every collider reads 0 (default false)")
	fmt.Println()
	fmt.Println("  -counter")
	fmt.Println("        Run the leash counter loop at startup (default false)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -http-listen string")
	fmt.Printf("        HTTP address for /ws, /metrics and /healthz; empty disables (default %q)\n", defaultHTTPAddr)
	fmt.Println()
	fmt.Println("  -sentry-dsn string")
	fmt.Println("        Sentry DSN for loop failure reports (default: disabled)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with defaults (VRChat on the same machine)")
	fmt.Println("  leashbridge")
	fmt.Println()
	fmt.Println("  # Stretch-based movement with automatic leash reset")
	fmt.Println("  leashbridge -calculator stretch -reset-on-null-input")
	fmt.Println()
	fmt.Println("  # Use a config file")
	fmt.Println("  leashbridge -config ~/.config/leashbridge/config.yaml")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Enable OSC in VRChat (Action Menu > Options > OSC)")
	fmt.Println("  - Use leash-ctl to change settings at runtime")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath       = flag.String("config", "", "Path to YAML config file")
		oscListen        = flag.String("osc-listen", defaultOSCListenAddr, "UDP address to receive VRChat OSC on")
		oscSend          = flag.String("osc-send", defaultOSCSendAddr, "UDP address of VRChat's OSC input")
		leashEnabled     = flag.Bool("leash", true, "Run the leash loop at startup")
		calculator       = flag.String("calculator", "location", "Movement calculator: location|stretch|combined")
		resetOnNullInput = flag.Bool("reset-on-null-input", false, "Toggle Leash_Enabled when every collider reads 0")
		counterEnabled   = flag.Bool("counter", false, "Run the leash counter loop at startup")
		ipcSocketPath    = flag.String("ipc-socket", defaultIPCSocketPath, "Unix domain socket path for IPC")
		httpListen       = flag.String("http-listen", defaultHTTPAddr, "HTTP address for /ws, /metrics and /healthz")
		sentryDSN        = flag.String("sentry-dsn", "", "Sentry DSN for loop failure reports")
		logLevelStr      = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion      = flag.Bool("version", false, "Print version and exit")
		showHelp         = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Only flags given on the command line override the config file.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "osc-listen":
			overrides.OSCListenAddr = oscListen
		case "osc-send":
			overrides.OSCSendAddr = oscSend
		case "leash":
			overrides.LeashEnabled = leashEnabled
		case "calculator":
			overrides.Calculator = calculator
		case "reset-on-null-input":
			overrides.ResetOnNullInput = resetOnNullInput
		case "counter":
			overrides.CounterEnabled = counterEnabled
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocketPath
		case "http-listen":
			overrides.HTTPListenAddr = httpListen
		case "sentry-dsn":
			overrides.SentryDSN = sentryDSN
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})

	loadConfig := func() (Config, error) {
		cfg := DefaultConfig()
		if *configPath != "" {
			var err error
			if cfg, err = LoadConfigFile(*configPath); err != nil {
				return Config{}, err
			}
		}
		overrides.Apply(&cfg)
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if err := run(cfg, *configPath, loadConfig); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until SIGINT/SIGTERM or a fatal error.
func run(cfg Config, configPath string, loadConfig func() (Config, error)) error {
	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger, levelVar := setupLogger(logLevel, os.Stdout)

	flushSentry, err := initSentry(cfg.Sentry, logger)
	if err != nil {
		logger.Warn("sentry disabled", "error", err)
	}
	defer flushSentry()

	metrics, err := NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	sender, err := NewOSCClient(cfg.OSC.SendAddr, metrics)
	if err != nil {
		return fmt.Errorf("osc client: %w", err)
	}

	params := NewParameterStore()
	settings := NewLiveSettings(cfg.ToThresholds(), cfg.ToBehavior())

	controller := NewController(params, settings, sender, ControllerOptions{
		Loop:            cfg.ToLoopConfig(),
		CounterInterval: cfg.CounterInterval(),
	}, metrics, logger)
	controller.SetLeashActive(cfg.Leash.Enabled)
	controller.SetCounterActive(cfg.Counter.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return controller.Run(ctx)
	})

	g.Go(func() error {
		return runOSCReceiver(ctx, cfg.OSC.ListenAddr, &oscReceiver{
			store:   params,
			metrics: metrics,
			logger:  logger,
		})
	})

	g.Go(func() error {
		return runIPCServer(ctx, cfg.IPC.SocketPath, controller, metrics, logger)
	})

	if cfg.HTTP.ListenAddr != "" {
		ws := NewServer(logger, controller, ServerConfig{})
		g.Go(func() error {
			ws.Hub().Run(ctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(ctx, ws.Hub(), controller.Broadcasts(), logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(ctx, cfg.HTTP.ListenAddr, newHTTPMux(ws, metrics), logger)
		})
	} else {
		// No WS consumers; keep the broadcast queue drained.
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-controller.Broadcasts():
				}
			}
		})
	}

	if configPath != "" {
		watcher := &configWatcher{
			path: configPath,
			load: loadConfig,
			apply: func(next Config) {
				if lvl, err := parseLogLevel(next.Logging.Level); err == nil {
					levelVar.Set(lvl.slogLevel())
				}
				controller.ApplyConfig(next)
			},
			metrics: metrics,
			logger:  logger,
		}
		g.Go(func() error {
			return watcher.run(ctx)
		})
	}

	logger.Debug("starting leashbridge", "version", version)
	logger.Info("listening",
		"osc_listen", cfg.OSC.ListenAddr,
		"osc_send", cfg.OSC.SendAddr,
		"ipc", cfg.IPC.SocketPath,
		"http", cfg.HTTP.ListenAddr,
		"calculator", cfg.Leash.Calculator,
		"leash", cfg.Leash.Enabled,
		"counter", cfg.Counter.Enabled)

	err = g.Wait()
	logger.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
