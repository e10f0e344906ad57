package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"daycal/internal/calendar"
	appLog "daycal/internal/log"
	"daycal/internal/model"
	"daycal/internal/reminder"
	"daycal/internal/web"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reminder dispatcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// CLI --listen overrides config file listen if provided.
			if listen != "" {
				a.cfg.Listen = listen
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

// serve runs until ctx is cancelled, then shuts the HTTP server down and
// stops the dispatcher.
func (a *app) serve(ctx context.Context) error {
	appLog.Info("effective config",
		"listen", a.cfg.Listen,
		"timezone", a.loc.String(),
		"database", a.cfg.Database,
		"events", a.cal.Len(),
		"reminder_schedule", a.cfg.Reminders.Schedule,
		"reminders_disabled", a.cfg.Reminders.Disabled,
		"subscriptions", len(a.cfg.Subscriptions),
		"export_path", a.cfg.ExportPath,
	)

	guarded := calendar.NewGuarded(a.cal)

	var dispatcher *reminder.Dispatcher
	if !a.cfg.Reminders.Disabled {
		dispatcher = newDispatcher(a, guarded)
		if err := dispatcher.Start(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           web.NewServer(a.cfg, guarded, a.store).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+a.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	if dispatcher != nil {
		dispatcher.Stop()
	}
	appLog.Info("daycal exiting")
	return serveErr
}

func newDispatcher(a *app, cal *calendar.Guarded) *reminder.Dispatcher {
	return reminder.New(cal,
		reminder.WithSchedule(a.cfg.Reminders.Schedule),
		reminder.WithNotifier(model.ReminderEmail, reminder.LogNotifier{Recipient: a.cfg.Reminders.EmailTo}),
		reminder.WithNotifier(model.ReminderSystem, reminder.LogNotifier{}),
	)
}
