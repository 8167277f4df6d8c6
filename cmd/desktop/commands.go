package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/eodiceanne-star/heard-app-beta/internal/models"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync core and the local status API",
	Long: `Run the scheduler, connectivity monitor and local HTTP API until
interrupted. Status changes are pushed to WebSocket clients on /api/sync/ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.start(ctx); err != nil {
			return err
		}

		server := &http.Server{
			Addr:              a.cfg.Server.Address,
			Handler:           a.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()
		a.logger.Info("Local API listening", map[string]interface{}{
			"address":  a.cfg.Server.Address,
			"base_url": a.cfg.API.BaseURL,
		})

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Drain the queue once and report the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Sync.DrainTimeout)
		defer cancel()

		if !a.checkOnline(ctx) {
			return fmt.Errorf("remote API %s is unreachable; %d operation(s) remain queued",
				a.cfg.API.BaseURL, a.queue.Size())
		}
		result, err := a.sched.SyncNow(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Delivered: %d\n", len(result.Delivered))
		fmt.Fprintf(out, "Failed:    %d\n", len(result.Failed))
		fmt.Fprintf(out, "Dropped:   %d\n", len(result.Dropped))
		fmt.Fprintf(out, "Remaining: %d\n", result.Remaining)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show queue depth and per-collection sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.API.Timeout)
		defer cancel()
		online := a.checkOnline(ctx)

		out := cmd.OutOrStdout()
		printStatus(out, a, online)
		return nil
	},
}

func printStatus(out io.Writer, a *app, online bool) {
	fmt.Fprintf(out, "Remote:   %s (%s)\n", a.cfg.API.BaseURL, onlineLabel(online))
	fmt.Fprintf(out, "Store:    %s", a.db.Path())
	if info, err := os.Stat(a.db.Path()); err == nil {
		fmt.Fprintf(out, " (%s)", humanize.Bytes(uint64(info.Size())))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Queued:   %s operation(s)\n", humanize.Comma(int64(a.queue.Size())))
	if u := a.sessions.Current(); u != nil {
		fmt.Fprintf(out, "User:     %s <%s>\n", u.DisplayName, u.Email)
	}
	fmt.Fprintln(out)

	status := a.data.CollectionStatus()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tTOTAL\tSYNCED\tPENDING")
	for _, name := range a.data.CollectionNames() {
		s := status[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", name, s.Total, s.Synced, s.Pending)
	}
	tw.Flush()
}

func onlineLabel(online bool) string {
	if online {
		return "reachable"
	}
	return "unreachable"
}

var clearQueue bool

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "List queued operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		out := cmd.OutOrStdout()
		if clearQueue {
			n := a.queue.Size()
			if err := a.sched.ClearQueue(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Cleared %d operation(s)\n", n)
			return nil
		}

		details := a.sched.QueueDetails()
		if details.Count == 0 {
			fmt.Fprintln(out, "Queue is empty")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tMETHOD\tENDPOINT\tATTEMPTS\tQUEUED\tLAST ERROR")
		for _, op := range details.Requests {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				op.ID, op.Kind.Method(), op.Endpoint, op.Attempts, humanize.Time(op.EnqueuedAt), op.LastError)
		}
		return tw.Flush()
	},
}

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "data",
	Short:   "Write all local data as JSON to a file or stdout",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		data, err := a.data.Export()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			_, err := cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(args[0], data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s\n", humanize.Bytes(uint64(len(data))), args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Overwrite local collections from an export (nothing is queued)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.data.Import(data)
		if err != nil {
			return err
		}
		sort.Strings(result.Imported)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Imported: %v\n", result.Imported)
		if len(result.Skipped) > 0 {
			fmt.Fprintf(out, "Skipped:  %v\n", result.Skipped)
		}
		return nil
	},
}

var listJSON bool

var listCmd = &cobra.Command{
	Use:     "list <collection>",
	GroupID: "data",
	Short:   "List the records of one local collection",
	Long: `List the records of one local collection with their sync state.
Collections: symptoms, appointments, doctors, reviews, forum, music, questions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ok := models.CollectionByName(args[0])
		if !ok {
			return fmt.Errorf("unknown collection %q", args[0])
		}
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		raw, err := a.store.ReadRaw(c.Key)
		if err != nil {
			return err
		}
		if raw == nil {
			raw = []byte("[]")
		}
		out := cmd.OutOrStdout()
		if listJSON {
			_, err := out.Write(append(raw, '\n'))
			return err
		}

		records := gjson.ParseBytes(raw).Array()
		if len(records) == 0 {
			fmt.Fprintf(out, "No %s records\n", c.Name)
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSYNCED")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%t\n", r.Get("id").String(), r.Get("synced").Bool())
		}
		return tw.Flush()
	},
}

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "data",
	Short:   "Show the stored profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		p := a.data.GetProfile()
		if p == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No profile stored")
			return nil
		}
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	},
}

var clearConfirmed bool

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "data",
	Short:   "Remove every local collection and the profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirmed {
			return errors.New("refusing to clear local data without --yes")
		}
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.data.ClearAllData(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Local data cleared")
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:     "login <email> <password>",
	GroupID: "session",
	Short:   "Start a local session",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		u, err := a.sessions.Login(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", u.DisplayName, u.ID)
		return nil
	},
}

var signupCmd = &cobra.Command{
	Use:     "signup <email> <password> <display-name>",
	GroupID: "session",
	Short:   "Create a local account and sign in",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		u, err := a.sessions.Signup(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed up as %s (%s)\n", u.DisplayName, u.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "session",
	Short:   "End the local session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.sessions.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

func init() {
	queueCmd.Flags().BoolVar(&clearQueue, "clear", false, "remove every queued operation")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print the stored JSON")
	clearCmd.Flags().BoolVarP(&clearConfirmed, "yes", "y", false, "confirm removal")
}
