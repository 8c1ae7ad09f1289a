package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/debthunt/internal/api"
	"github.com/joescharf/debthunt/internal/daemon"
)

const shutdownTimeout = 30 * time.Second

var serveBackground bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and REST API server",
	Long: `Start an HTTP server that receives GitHub App webhooks and serves the
REST API. Pushes to a repository's default branch queue a run for it.
By default it listens on port 8080. Use --port to change it and
--background to detach from the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.AddCommand(serveStopCmd, serveStatusCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().BoolVarP(&serveBackground, "background", "b", false, "run detached, logging to the state directory")
	_ = viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "debthunt-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "debthunt-serve.log")
}

func serveStartRun() error {
	pf := pidFile()
	if r, running := pf.Running(); running {
		return fmt.Errorf("server already running (PID %d, port %d)", r.PID, r.Port)
	}
	if serveBackground {
		return serveDetach()
	}
	return serveForeground(pf)
}

// serveDetach re-executes this binary in the foreground mode with output
// redirected to the log file.
func serveDetach() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	args := []string{"serve", "--port", strconv.Itoa(viper.GetInt("serve.port"))}
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if verbose {
		args = append(args, "--verbose")
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logPath := serveLogPath()
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	child := exec.Command(executable, args...)
	setDaemonAttrs(child)
	child.Stdout = logFile
	child.Stderr = logFile

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	ui.Success("Server started (PID %d) on port %d", child.Process.Pid, viper.GetInt("serve.port"))
	ui.Info("Log file: %s", logPath)
	return nil
}

func serveForeground(pf *daemon.PIDFile) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	runner, err := newRunner(s, "")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(pf.Path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	port := viper.GetInt("serve.port")
	if err := pf.Claim(port); err != nil {
		return err
	}
	defer func() { _ = pf.Remove() }()

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	dispatcher := newDispatcher()
	secret := viper.GetString("github.webhook_secret")
	if secret == "" {
		ui.Warning("github.webhook_secret is not set; webhook signatures will not be verified")
	}
	srv := api.NewServer(s, runner, dispatcher, secret).WithLogger(slog.Default())

	addr := fmt.Sprintf(":%d", port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	ui.Info("Serving debthunt API at http://localhost%s", addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	ui.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		slog.Warn("runs still in flight at shutdown", "error", err)
	}
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	r, running := pf.Running()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("server is not running")
	}

	term, kill := stopSignals()
	if err := pf.Signal(term); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}
	if !pf.WaitExit(shutdownTimeout+5*time.Second, 200*time.Millisecond) {
		ui.Warning("Server (PID %d) did not exit, killing it", r.PID)
		if err := pf.Signal(kill); err != nil {
			return fmt.Errorf("kill server: %w", err)
		}
	}
	_ = pf.Remove()
	ui.Success("Server stopped (PID %d)", r.PID)
	return nil
}

func serveStatusRun() error {
	r, running := pidFile().Running()
	if !running {
		ui.Info("Server is not running")
		return nil
	}
	ui.Success("Server is running (PID %d) on port %d, up %s", r.PID, r.Port, r.Uptime())
	ui.Info("Log file: %s", serveLogPath())
	return nil
}
