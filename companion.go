package companion

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/companion/internal/config"
	"github.com/loykin/companion/internal/history"
	"github.com/loykin/companion/internal/history/factory"
	"github.com/loykin/companion/internal/launch"
	"github.com/loykin/companion/internal/manager"
	"github.com/loykin/companion/internal/metrics"
	"github.com/loykin/companion/internal/process"
	iapi "github.com/loykin/companion/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = launch.Record

type Document = launch.Document

type Event = manager.Event

type ProcessStatus = manager.ProcessStatus

type HistorySink = history.Sink

type Config = cfg.Config

const (
	EventAfterStartupComplete = manager.EventAfterStartupComplete
	EventBeforeProcessExit    = manager.EventBeforeProcessExit
)

var (
	ErrConfigurationUnavailable    = launch.ErrConfigurationUnavailable
	ErrConfigurationPersistFailure = launch.ErrConfigurationPersistFailure
)

// Options configure a Launcher.
type Options struct {
	// RecordsPath is the JSON launch document. Empty keeps records in memory,
	// seeded from Records.
	RecordsPath string
	Records     []Record

	StopTimeout time.Duration
	KillWait    time.Duration
	Parallel    bool

	// HistoryDSNs are opened with the history sink factory.
	HistoryDSNs []string

	Logger *slog.Logger

	driver process.Driver
}

// Launcher starts configured companion executables when the host finishes
// starting up and stops them before the host exits.
type Launcher struct {
	inner *manager.Manager
	sinks []history.Sink
}

// New builds a Launcher and loads its records. A missing or unreadable
// records document is not an error; the launcher starts with no records.
func New(opts Options) (*Launcher, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	var p launch.Persister
	if opts.RecordsPath != "" {
		p = launch.NewFileStore(opts.RecordsPath)
	} else {
		p = launch.NewMemoryStore(opts.Records...)
	}
	store := launch.NewStore(p, log)
	if err := store.Load(); err != nil && !errors.Is(err, launch.ErrConfigurationUnavailable) {
		return nil, err
	}

	sinks := make([]history.Sink, 0, len(opts.HistoryDSNs))
	for _, dsn := range opts.HistoryDSNs {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			factory.Close(sinks)
			return nil, err
		}
		sinks = append(sinks, s)
	}

	m := manager.New(store, opts.driver, log, manager.Options{
		StopTimeout: opts.StopTimeout,
		KillWait:    opts.KillWait,
		Parallel:    opts.Parallel,
	})
	m.SetHistorySinks(sinks...)
	return &Launcher{inner: m, sinks: sinks}, nil
}

// FromConfig builds a Launcher from an application config.
func FromConfig(c Config, log *slog.Logger) (*Launcher, error) {
	mo := c.ManagerOptions()
	return New(Options{
		RecordsPath: c.Records,
		StopTimeout: mo.StopTimeout,
		KillWait:    mo.KillWait,
		Parallel:    mo.Parallel,
		HistoryDSNs: c.History.DSN,
		Logger:      log,
	})
}

// LoadConfig reads an application config file; see internal/config for keys.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

func (l *Launcher) HandleEvent(e Event)                { l.inner.HandleEvent(e) }
func (l *Launcher) Records() []Record                  { return l.inner.Store().GetAll() }
func (l *Launcher) ReplaceRecords(recs []Record) error { return l.inner.Store().ReplaceAll(recs) }
func (l *Launcher) Status() []ProcessStatus            { return l.inner.Status() }

// Close flushes pending history events and releases sink connections.
// Tracked children are not touched; deliver EventBeforeProcessExit first to
// stop them.
func (l *Launcher) Close() error {
	l.inner.FlushHistory()
	factory.Close(l.sinks)
	l.inner.SetHistorySinks()
	l.sinks = nil
	return nil
}

// NewHTTPServer starts an HTTP server exposing records and process status.
// When withMetrics is set, /metrics serves the default Prometheus registry.
func NewHTTPServer(addr, basePath string, l *Launcher, withMetrics bool) (*http.Server, error) {
	r := iapi.NewRouter(l.inner, basePath)
	if withMetrics {
		r.WithMetrics(metrics.Handler())
	}
	return iapi.NewServer(addr, r)
}

// RegisterMetrics registers the launcher's collectors with r. Only the first
// successful registration takes effect.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// RegisterMetricsDefault registers with the default Prometheus registry, the
// one NewHTTPServer serves on /metrics.
func RegisterMetricsDefault() error { return RegisterMetrics(prometheus.DefaultRegisterer) }
