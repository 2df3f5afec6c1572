package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"crash-spooler/spooler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending crash records",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, spooler.Options{})
		if err != nil {
			return err
		}
		defer e.Close()

		store := e.manager.Store()
		ids, err := store.ListPending()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFINGERPRINT\tAPP")
		for _, id := range ids {
			rec, err := store.Read(id)
			if err != nil {
				fmt.Fprintf(w, "%s\t(unreadable)\t\n", id)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", id, spooler.TraceFingerprint(rec.Trace), rec.AppIdentifier)
		}
		return w.Flush()
	},
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one crash record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, spooler.Options{})
		if err != nil {
			return err
		}
		defer e.Close()

		rec, err := e.manager.Store().Read(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:          %s\n", rec.ID)
		fmt.Fprintf(out, "app:         %s\n", rec.AppIdentifier)
		fmt.Fprintf(out, "user:        %s\n", rec.UserID)
		fmt.Fprintf(out, "contact:     %s\n", rec.Contact)
		fmt.Fprintf(out, "description: %s\n", rec.Description)
		fmt.Fprintf(out, "fingerprint: %s\n\n", spooler.TraceFingerprint(rec.Trace))
		fmt.Fprintln(out, rec.Trace)
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Classify pending crash records as new or confirmed",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, spooler.Options{})
		if err != nil {
			return err
		}
		defer e.Close()

		ids, err := e.manager.Store().ListPending()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%d pending)\n", e.manager.Evaluate(), len(ids))
		return nil
	},
}

// --- send ---

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Ask for consent and upload pending crash records",
	Long: `Ask for consent and upload pending crash records.

Without --yes the startup policy applies: confirmed records are sent, new
records are sent only after consent (always-send preference, auto_upload, or
the prompt on stdin). When stdin is closed the prompt gets no answer and the
records stay queued.

With --once=false the command keeps polling the directory every
--poll-interval and serves metrics on metrics_addr. Each poll sends what the
user already agreed to: everything with --yes, always-send or auto_upload,
otherwise only confirmed records. Records that arrive later wait for the
next prompt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		once, _ := cmd.Flags().GetBool("once")
		pollInterval, _ := cmd.Flags().GetDuration("poll-interval")

		e, err := newEnv(cmd, spooler.Options{
			Dialog: spooler.ConsoleDialog{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()},
		})
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if yes {
			res, _ := e.manager.Drain(ctx)
			printResult(cmd, res)
		} else {
			status := e.manager.Register(ctx)
			e.manager.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", status)
		}
		if once {
			return nil
		}

		if e.cfg.MetricsAddr != "" {
			srv := serveMetrics(e)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			var (
				res spooler.CampaignResult
				ok  bool
			)
			if yes {
				res, ok = e.manager.Drain(ctx)
			} else {
				res, ok = e.manager.DrainConsented(ctx)
			}
			if !ok {
				continue
			}
			if res.Sent+res.NotSent+res.Skipped > 0 {
				e.logger.Info("campaign finished",
					zap.Int("sent", res.Sent), zap.Int("not_sent", res.NotSent), zap.Int("skipped", res.Skipped))
			}
		}
	},
}

func init() {
	sendCmd.Flags().Bool("yes", false, "Upload every pending record without asking.")
	sendCmd.Flags().Bool("once", true, "Run once and exit (default true for crontab).")
	sendCmd.Flags().Duration("poll-interval", 30*time.Second, "Polling interval when running with --once=false.")
}

func printResult(cmd *cobra.Command, res spooler.CampaignResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "sent: %d, not sent: %d, skipped: %d\n", res.Sent, res.NotSent, res.Skipped)
}

func serveMetrics(e *env) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              e.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}

// --- purge ---

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every pending crash record",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, spooler.Options{})
		if err != nil {
			return err
		}
		defer e.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records\n", e.manager.DeleteAll())
		return nil
	},
}

// --- quarantine ---

var quarantineCmd = &cobra.Command{
	Use:   "quarantine <id>",
	Short: "Move one crash record out of the upload queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		if to == "" {
			return fmt.Errorf("--to is required")
		}
		e, err := newEnv(cmd, spooler.Options{})
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.manager.Store().Quarantine(args[0], to); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "moved %s to %s\n", args[0], to)
		return nil
	},
}

func init() {
	quarantineCmd.Flags().String("to", "", "Destination directory.")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent submission attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		record, _ := cmd.Flags().GetString("record")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := spooler.OpenQueryDB(cfg.SettingsDB)
		if err != nil {
			return err
		}
		defer spooler.CloseDB(db)

		journal := spooler.NewSQLJournal(db)
		var attempts []spooler.SubmissionAttempt
		if record != "" {
			attempts, err = journal.Attempts(record)
		} else {
			attempts, err = journal.Recent(limit)
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tRECORD\tFINGERPRINT\tSENT\tERROR")
		for _, a := range attempts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
				a.AttemptedAt.Local().Format(time.DateTime), a.RecordID, a.Fingerprint, a.Sent, a.SendError)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().Int("limit", 50, "Number of attempts to show.")
	historyCmd.Flags().String("record", "", "Only show attempts for this record id.")
}

// --- crash ---

var crashCmd = &cobra.Command{
	Use:   "crash",
	Short: "Install the capture and panic, leaving a crash record behind",
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")

		e, err := newEnv(cmd, spooler.Options{})
		if err != nil {
			return err
		}
		e.manager.Initialize()
		fmt.Fprintf(os.Stderr, "panicking with %q, record goes to %s\n", message, e.cfg.StorageDir)

		defer e.manager.Registry().Recover()
		panic(message)
	},
}

func init() {
	crashCmd.Flags().String("message", "crash-spooler smoke test", "Panic value.")
}
