package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"agrocast/config"
	"agrocast/forecast"
	"agrocast/logging"
	"agrocast/params"
	"agrocast/present"
	"agrocast/transport"
	"agrocast/ui"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// handle --version / -v
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("agrocast %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	var cmd string
	var args []string
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	switch cmd {
	case "setup":
		cfg := mustLoad()
		if !runSetup(cfg) {
			return
		}
		runDashboard(mustLoad())
	case "once":
		os.Exit(runOnce(mustLoad(), args, os.Stdout, os.Stderr))
	case "":
		if !config.ConfigExists() {
			if !runSetup(mustLoad()) {
				return
			}
		}
		runDashboard(mustLoad())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want setup or once)\n", cmd)
		os.Exit(2)
	}
}

func mustLoad() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// runSetup reports whether the wizard saved a configuration.
func runSetup(cfg *config.Config) bool {
	path, err := config.Path()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error locating config: %v\n", err)
		os.Exit(1)
	}

	geocoder := transport.New(config.GeocodeBaseURL,
		transport.WithTimeout(10*time.Second),
		transport.WithUserAgent(userAgent()),
	)

	p := tea.NewProgram(
		ui.NewSetupModel(cfg, path, geocoder),
		tea.WithAltScreen(),
	)

	final, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running setup: %v\n", err)
		os.Exit(1)
	}
	m, ok := final.(ui.SetupModel)
	return ok && m.Done()
}

func runDashboard(cfg *config.Config) {
	logger, closeLog, err := logging.Open(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	client, orch, err := build(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer orch.Close()

	logger.Info("starting dashboard", "version", version, "api_base", cfg.APIBase, "route", cfg.Route)

	p := tea.NewProgram(
		ui.NewModel(cfg, orch, client),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}

// runOnce submits the configured defaults, overridden by field=value
// arguments, and prints the outcome.
func runOnce(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	// Nothing owns the terminal here, so logs go to stderr unless a file is set.
	logger := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.File != "" {
		l, closeLog, err := logging.Open(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			fmt.Fprintf(stderr, "Error opening log: %v\n", err)
			return 1
		}
		defer closeLog()
		logger = l
	}

	overrides := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			fmt.Fprintf(stderr, "expected field=value, got %q\n", a)
			return 2
		}
		overrides[k] = v
	}

	p, err := params.Parse(cfg.DefaultParams(time.Now()), overrides)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}

	_, orch, err := build(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer orch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sub, err := orch.Submit(ctx, p)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if err := sub.Wait(ctx); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	d, err := present.Format(sub.Result())
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	printDisplay(stdout, d)
	return 0
}

func build(cfg *config.Config, logger *slog.Logger) (*transport.Client, *forecast.Orchestrator, error) {
	strategy, err := params.ParseHistoryStrategy(cfg.History.Strategy)
	if err != nil {
		return nil, nil, err
	}
	policy, err := forecast.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, nil, err
	}

	opts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithUserAgent(userAgent()),
	}
	if t := cfg.Timeout(); t > 0 {
		opts = append(opts, transport.WithTimeout(t))
	}
	if cfg.Breaker.Enabled {
		opts = append(opts, transport.WithBreaker(transport.BreakerSettings{
			MaxFailures: cfg.Breaker.MaxFailures,
			Cooldown:    cfg.BreakerCooldown(),
		}))
	}
	client := transport.New(cfg.APIBase, opts...)

	orch := forecast.NewOrchestrator(client,
		forecast.WithRoute(cfg.Route),
		forecast.WithHistory(strategy, cfg.History.Years),
		forecast.WithPolicy(policy),
		forecast.WithLogger(logger),
	)
	return client, orch, nil
}

func printDisplay(w io.Writer, d present.Display) {
	fmt.Fprintf(w, "Forecast for %s\n", d.Target)
	fmt.Fprintf(w, "  Temperature    %s\n", d.Temperature)
	fmt.Fprintf(w, "  Humidity       %s\n", d.Humidity)
	fmt.Fprintf(w, "  Wind           %s\n", d.Wind)
	fmt.Fprintf(w, "  Precipitation  %s\n", d.Precipitation)
	fmt.Fprintf(w, "  Irrigation     %s (%s)\n", d.Irrigation, d.LitersPerHectare)
	fmt.Fprintf(w, "  ET0 %s | ETc %s | EffRain %s\n", d.ET0, d.ETc, d.EffectiveRain)
	fmt.Fprintln(w, "Advisory")
	for _, line := range d.Advisory {
		fmt.Fprintf(w, "  %-11s %s\n", present.Title(line.Category), line.Text)
	}
}

func userAgent() string {
	return "agrocast/" + version
}
