package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// newRunCmd creates the long-running engine command.
func newRunCmd(app *App) *cobra.Command {
	var checkpointSecs int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sandbox engine",
		Long: `Run the sandbox engine loops: order execution, mark-to-market,
delivery settlement, square-off and the weekly funds reset. State is
checkpointed to the database periodically and on shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app.Logger.Info().
				Float64("starting_capital", app.Config.Sandbox.StartingCapital).
				Str("provider", app.Config.Quotes.Provider).
				Msg("Sandbox engine starting")

			var wg sync.WaitGroup
			run := func(fn func(context.Context)) {
				wg.Add(1)
				go func() {
					defer wg.Done()
					fn(ctx)
				}()
			}

			run(func(ctx context.Context) { app.Engine.Run(ctx) })
			run(func(ctx context.Context) { app.Positions.Run(ctx, app.Config.MTMInterval()) })
			run(func(ctx context.Context) { app.Holdings.Run(ctx, time.Minute) })
			run(func(ctx context.Context) { app.SquareOff.Run(ctx, 30*time.Second) })
			run(func(ctx context.Context) { app.Reset.Run(ctx, time.Minute) })
			run(func(ctx context.Context) { app.checkpointLoop(ctx, time.Duration(checkpointSecs)*time.Second) })

			<-ctx.Done()
			app.Logger.Info().Msg("Shutting down")
			wg.Wait()

			if err := app.Checkpoint(); err != nil {
				app.Logger.Error().Err(err).Msg("Final checkpoint failed")
			}
			app.Close()
			return nil
		},
	}

	cmd.Flags().IntVar(&checkpointSecs, "checkpoint-interval", 30, "seconds between state checkpoints")
	return cmd
}

// checkpointLoop periodically flushes in-memory state to the store.
func (a *App) checkpointLoop(ctx context.Context, interval time.Duration) {
	if a.Store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Checkpoint(); err != nil {
				a.Logger.Error().Err(err).Msg("Checkpoint failed")
			}
		}
	}
}
