package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentic-research/intentfs/internal/bulk"
	"github.com/agentic-research/intentfs/internal/cache"
	"github.com/agentic-research/intentfs/internal/config"
	"github.com/agentic-research/intentfs/internal/notify"
	"github.com/agentic-research/intentfs/internal/remote"
	"github.com/agentic-research/intentfs/internal/reports"
	"github.com/agentic-research/intentfs/internal/session"
	"github.com/agentic-research/intentfs/internal/tree"
	"github.com/agentic-research/intentfs/internal/vpath"
)

var (
	configPath string
	envFile    string
	logLevel   string
	address    string
	assumeYes  bool
)

// newHTTPClient builds the client for token and API calls. Tests replace it.
var newHTTPClient = func(cfg config.Config) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.Insecure} //nolint:gosec // NSP ships self-signed certificates
	return &http.Client{Transport: tr}
}

// app is everything a command needs, built once per invocation.
type app struct {
	cfg     *config.Holder
	log     zerolog.Logger
	ui      *ptermUI
	bus     *notify.Bus
	session *session.Manager
	remote  *remote.Client
	tree    *tree.Engine
	bulk    *bulk.Engine
	reports reports.Store
}

var current *app

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (.yaml or .hcl)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file with credentials, loaded when present")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&address, "address", "a", "", "NSP server address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Approve destructive operations without asking")
}

var rootCmd = &cobra.Command{
	Use:           "intentfs",
	Short:         "intentfs: NSP intent manager catalog as a filesystem",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["offline"] == "true" {
			return nil
		}
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		current = a
		return nil
	},
}

func setup(cmd *cobra.Command) (*app, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	path, required := configPath, true
	if path == "" {
		path, required = config.DefaultPath(), false
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}
	if address != "" {
		cfg.Address = address
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg: config.NewHolder(cfg),
		log: log,
		ui:  newPtermUI(cmd.OutOrStdout(), assumeYes),
		bus: notify.NewBus(),
	}
	a.bus.Subscribe(func(ev notify.Event) {
		log.Debug().Str("entity", ev.Entity.String()).Str("intent_type", ev.IntentType).
			Str("name", ev.Name).Bool("deleted", ev.Deleted).Msg("changed")
	})

	client := newHTTPClient(cfg)
	a.session = session.New(cfg.Address, config.EnvCredentials{},
		session.WithHTTPClient(client), session.WithLogger(log))
	a.remote = remote.New(a.cfg, a.session, remote.WithHTTPClient(client), remote.WithLogger(log))

	if cfg.ReportsDB != "" {
		if a.reports, err = reports.OpenSQLite(cfg.ReportsDB); err != nil {
			return nil, err
		}
	} else {
		a.reports = reports.NewMemoryStore()
	}

	store := cache.NewStore()
	a.tree = tree.New(a.remote, store, a.cfg,
		tree.WithBus(a.bus),
		tree.WithReporter(a.ui),
		tree.WithConfirmer(a.ui),
		tree.WithScaffolder(scaffolder{}),
		tree.WithLogger(log.With().Str("component", "tree").Logger()))
	a.bulk = bulk.New(a.remote, store, a.cfg,
		bulk.WithReports(a.reports),
		bulk.WithBus(a.bus),
		bulk.WithReporter(a.ui),
		bulk.WithLogger(log.With().Str("component", "bulk").Logger()))
	return a, nil
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), session.AuthTimeout)
	defer cancel()
	err := a.session.Close(ctx)
	return errors.Join(err, a.reports.Close())
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// warm lists every directory above p so the cache knows the entities the
// command addresses. Commands run against a fresh cache each time.
func (a *app) warm(ctx context.Context, p string) (vpath.Ref, error) {
	ref, err := vpath.ResolvePath(p)
	if err != nil {
		return ref, err
	}
	var dirs []string
	for r := ref; r.Kind != vpath.Root; {
		r = r.Parent()
		if r.Kind != vpath.Resource {
			dirs = append(dirs, r.Path())
		}
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if _, err := a.tree.List(ctx, dirs[i]); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

// run executes the root command and releases the session whether or not
// the command succeeded.
func run(args []string, out io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	err := rootCmd.Execute()
	if current != nil {
		err = errors.Join(err, current.close())
		current = nil
	}
	return err
}

// Execute runs the root command.
func Execute() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
