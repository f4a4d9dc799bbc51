package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfooddiary/openfooddiary/server/internal/config"
	"github.com/openfooddiary/openfooddiary/server/internal/factory"
	"github.com/openfooddiary/openfooddiary/server/internal/logger"
	"github.com/openfooddiary/openfooddiary/server/internal/metrics"
	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/storage"
)

// Exit codes by error kind.
const (
	exitOK         = 0
	exitSystem     = 1
	exitValidation = 2
	exitNotFound   = 3
)

const shutdownTimeout = 10 * time.Second

// app carries the streams and the storage opened for one invocation.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	user        string
	metricsFile string

	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	storage  *storage.Storage
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and always shuts the database down before returning.
func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := &app{in: in, out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		return a.report(err)
	}
	return exitOK
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "foodlogctl",
		Short:         "Manage food diary entries and user configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&a.user, "user", "u", "", "User ID (defaults to OPENFOODDIARY_USERID)")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-textfile", "", "Write prometheus counters to this file on exit")

	root.AddCommand(a.setupCmd(), a.healthCmd(), a.logsCmd(), a.configCmd())
	return root
}

// open loads configuration and selects the storage backend.
func (a *app) open(ctx context.Context) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	a.cfg = cfg
	logger.SetLevel(cfg.LogLevel)
	a.log = logger.New("foodlogctl")
	if a.user == "" {
		a.user = cfg.UserID
	}

	st, err := factory.NewStore(ctx, cfg, a.log)
	if err != nil {
		return model.NewSystemError(err)
	}
	a.registry = prometheus.NewRegistry()
	a.storage = storage.New(st, a.log, metrics.NewPrometheus(a.registry, cfg.PromPrefix))
	return nil
}

func (a *app) close() error {
	if a.storage == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.storage.ShutdownDatabase(ctx)
	if a.metricsFile != "" {
		if werr := prometheus.WriteToTextfile(a.metricsFile, a.registry); werr != nil && err == nil {
			err = werr
		}
	}
	a.storage = nil
	return err
}

// report prints err as "<kind>: <message>" and maps it to an exit code.
func (a *app) report(err error) int {
	var me *model.Error
	if !errors.As(err, &me) {
		_, _ = fmt.Fprintf(a.errOut, "error: %v\n", err)
		return exitSystem
	}
	_, _ = fmt.Fprintf(a.errOut, "%s: %s\n", me.Kind, me.Message)
	switch me.Kind {
	case model.KindValidation:
		return exitValidation
	case model.KindNotFound:
		return exitNotFound
	default:
		return exitSystem
	}
}

// print writes v as indented JSON.
func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readJSON decodes the document at path, or stdin when path is "-".
func (a *app) readJSON(path string, v any) error {
	r := a.in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return model.NewValidationError(fmt.Sprintf("invalid JSON input: %v", err))
	}
	return nil
}

func (a *app) setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the schema for the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.storage.SetupDatabase(cmd.Context()); err != nil {
				return err
			}
			return a.print(map[string]string{"backend": a.storage.Backend(), "status": "ready"})
		},
	}
}
