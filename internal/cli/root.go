package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sandbox-trader/internal/config"
	"sandbox-trader/internal/errors"
	"sandbox-trader/internal/logging"
	"sandbox-trader/internal/quote"
	"sandbox-trader/internal/sandbox"
	"sandbox-trader/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Location *time.Location

	Store    *store.Store
	Static   *quote.StaticGateway
	Gateway  quote.Gateway
	Metadata quote.MetadataGateway

	Ledger    *sandbox.Ledger
	Book      *sandbox.Book
	Locks     *sandbox.AccountLocks
	Positions *sandbox.PositionManager
	Holdings  *sandbox.HoldingsManager
	Margin    *sandbox.MarginCalculator
	Notifier  *sandbox.Notifier
	Engine    *sandbox.ExecutionEngine
	SquareOff *sandbox.SquareOffScheduler
	Reset     *sandbox.ResetScheduler
	Service   *sandbox.Service
}

// NewApp wires the full sandbox from configuration. The quote provider is
// selected exactly once here; every loop shares the one throttled gateway
// so the aggregate external call rate stays under the ceiling.
func NewApp(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger, Location: loc}

	dataStore, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to open store, state will not persist")
	} else {
		app.Store = dataStore
	}

	switch cfg.Quotes.Provider {
	case "", "static":
		app.Static = quote.NewStaticGateway()
		app.Metadata = app.Static
		app.Gateway = quote.NewThrottledGateway(app.Static, quote.ThrottleConfig{
			CallsPerSecond: cfg.Quotes.RateLimit,
			BatchSize:      cfg.Quotes.BatchSize,
			BatchDelay:     time.Duration(cfg.Quotes.BatchDelayMS) * time.Millisecond,
			Timeout:        time.Duration(cfg.Quotes.TimeoutMS) * time.Millisecond,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown quote provider %q", errors.ErrConfigInvalid, cfg.Quotes.Provider)
	}

	app.Ledger = sandbox.NewLedger(cfg.Sandbox.StartingCapital, logger)
	app.Book = sandbox.NewBook()
	app.Locks = sandbox.NewAccountLocks()
	app.Positions = sandbox.NewPositionManager(app.Ledger, app.Gateway, logger)
	app.Holdings = sandbox.NewHoldingsManager(app.Positions, app.Ledger, app.Gateway, app.Locks, cfg.Sandbox.SettlementDays, logger)
	app.Margin = sandbox.NewMarginCalculator(cfg.Leverage, &quote.GatewayFuturePricer{Gateway: app.Gateway})
	app.Notifier = sandbox.NewNotifier(256, logger, sandbox.LogSink{Logger: logger})

	var journal sandbox.Journal
	if app.Store != nil {
		journal = app.Store
	}
	app.Engine = sandbox.NewExecutionEngine(app.Book, app.Positions, app.Holdings,
		app.Ledger, app.Locks, app.Gateway, app.Margin, app.Metadata, journal,
		app.Notifier, cfg.OrderCheckInterval(), logger)
	app.SquareOff = sandbox.NewSquareOffScheduler(cfg, loc, app.Book, app.Positions,
		app.Engine, app.Ledger, app.Gateway, app.Notifier, logger)
	app.Reset = sandbox.NewResetScheduler(cfg, loc, app.Ledger, app.Positions,
		app.Holdings, app.Locks, app.Notifier, logger)
	app.Service = sandbox.NewService(app.Book, app.Ledger, app.Positions, app.Holdings,
		app.Locks, app.Margin, app.Metadata, app.Gateway, journal, app.Notifier,
		app.Reset, logger)

	if app.Store != nil {
		if err := app.restore(); err != nil {
			logger.Warn().Err(err).Msg("Failed to restore persisted state")
		}
	}
	return app, nil
}

// restore loads persisted sandbox state into the managers.
func (a *App) restore() error {
	orders, err := a.Store.LoadOrders()
	if err != nil {
		return err
	}
	for _, o := range orders {
		a.Book.Restore(o)
	}
	trades, err := a.Store.LoadTrades()
	if err != nil {
		return err
	}
	for _, t := range trades {
		a.Book.RestoreTrade(t)
	}
	positions, err := a.Store.LoadPositions()
	if err != nil {
		return err
	}
	for _, p := range positions {
		a.Positions.Restore(p)
	}
	holdings, err := a.Store.LoadHoldings()
	if err != nil {
		return err
	}
	for _, h := range holdings {
		a.Holdings.Restore(h)
	}
	funds, err := a.Store.LoadFunds()
	if err != nil {
		return err
	}
	for _, f := range funds {
		a.Ledger.Restore(f)
	}
	a.Logger.Info().
		Int("orders", len(orders)).
		Int("trades", len(trades)).
		Int("positions", len(positions)).
		Int("holdings", len(holdings)).
		Int("accounts", len(funds)).
		Msg("Persisted state restored")
	return nil
}

// Checkpoint writes the in-memory state back to the store.
func (a *App) Checkpoint() error {
	if a.Store == nil {
		return nil
	}
	if err := a.Store.SavePositions(a.Positions.All()); err != nil {
		return err
	}
	if err := a.Store.SaveHoldings(a.Holdings.All()); err != nil {
		return err
	}
	return a.Store.SaveFunds(a.Ledger.All())
}

// Close shuts down the app's long-lived resources.
func (a *App) Close() {
	if a.Notifier != nil {
		a.Notifier.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) (*cobra.Command, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, err
	}

	rootCmd := &cobra.Command{
		Use:   "sandbox-trader",
		Short: "Paper trading sandbox for the Indian markets",
		Long: `sandbox-trader simulates order execution, margins, positions, holdings
and funds against real market prices. Every order is virtual: no money
moves and no order reaches an exchange.

Use 'sandbox-trader run' to start the engine loops, or the order and
portfolio commands for one-shot operations against the persisted state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/sandbox-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("account", "default", "sandbox account id")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd(app))
	addOrderCommands(rootCmd, app)
	addPortfolioCommands(rootCmd, app)

	return rootCmd, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("sandbox-trader v%s\n", Version)
			}
		},
	}
}

func accountFlag(cmd *cobra.Command) string {
	account, _ := cmd.Flags().GetString("account")
	if account == "" {
		return "default"
	}
	return account
}
