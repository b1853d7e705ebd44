// Command tit-core wires the orchestration core's packages together for
// one subject's montage batch. It is a composition root, not a CLI:
// spec.md's Non-goals place electrode-geometry definition, mesh solving,
// and a full command surface out of scope, so this binary demonstrates
// wiring pathmgr -> simconfig -> montage -> session -> runner -> manifest
// with a stub Solver and no Visualizer rather than shipping the
// production tool. Grounded on the teacher's cmd/server/main.go: flag
// parsing, environment-driven config, structured startup logging, and a
// signal-based graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ti-toolbox/tit-core/internal/infrastructure/monitoring"
	"github.com/ti-toolbox/tit-core/internal/infrastructure/storage"
	"github.com/ti-toolbox/tit-core/manifest"
	"github.com/ti-toolbox/tit-core/montage"
	"github.com/ti-toolbox/tit-core/pathmgr"
	"github.com/ti-toolbox/tit-core/runner"
	"github.com/ti-toolbox/tit-core/session"
	"github.com/ti-toolbox/tit-core/simconfig"
)

func main() {
	var (
		subject     = flag.String("subject", "", "BIDS subject label, e.g. 101")
		eegNet      = flag.String("eeg-net", "EEG10-10_UI_Jurak_2007.csv", "EEG cap filename montages are keyed under")
		parallel    = flag.Bool("parallel", false, "run montages concurrently, subject to --max-workers")
		maxWorkers  = flag.Int("max-workers", 0, "cap on concurrent montage units (0 lets ParallelConfig decide)")
		debugLogs   = flag.Bool("debug", false, "raise log verbosity to debug")
		databaseDSN = flag.String("database-dsn", os.Getenv("TIT_DATABASE_DSN"), "optional Postgres DSN for the montage/manifest mirror")
	)
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "tit-core: --subject is required")
		os.Exit(2)
	}

	pm, err := pathmgr.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tit-core: resolve project directory: %v\n", err)
		os.Exit(1)
	}

	logPath := pm.LogsDir(*subject) + "/tit-core.log"
	log, closer, err := monitoring.NewFileLogger(logPath, *debugLogs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tit-core: open log file: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	log = log.WithSubject(*subject)
	log.Info("starting tit-core orchestration run")

	cfg := simconfig.LoadEnvironment(simconfig.Config{
		Subject:      *subject,
		Conductivity: simconfig.ConductivityScalar,
		Intensities:  simconfig.IntensityConfig{Pair1: 2, Pair2: 2, Pair3: 1, Pair4: 1},
		Electrode: simconfig.ElectrodeConfig{
			Shape:           simconfig.ElectrodeRect,
			DimensionsMM:    [2]float64{5, 7},
			GelThicknessMM:  2,
			SpongeThickness: 3,
		},
		EEGNet: *eegNet,
		Parallel: simconfig.ParallelConfig{
			Enabled:    *parallel,
			MaxWorkers: *maxWorkers,
		}.Resolve(simconfig.DefaultCPUCount()),
	})
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", err)
		os.Exit(1)
	}

	montageStore := montage.NewJSONFileStore(pm.MontageListPath())
	if err := montageStore.EnsureMontageFile(); err != nil {
		log.Error("failed to initialize montage store", err)
		os.Exit(1)
	}

	var store montage.Store = montageStore
	if *databaseDSN != "" {
		db := storage.Open(*databaseDSN)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := db.InitSchema(ctx)
		cancel()
		if err != nil {
			log.Error("failed to initialize mirror schema, continuing file-only", err)
		} else {
			store = storage.NewMirrorStore(montageStore, db, log)
			log.Info("montage/manifest mirror enabled")
		}
	}

	montages, err := loadMontages(store, cfg.EEGNet)
	if err != nil {
		log.Error("failed to load montages", err)
		os.Exit(1)
	}
	if len(montages) == 0 {
		log.Warn("no montages found for eeg net; nothing to run")
		return
	}

	observer := monitoring.NewObserverManager()
	observer.AddSink(monitoring.NewLogSink(log))

	r := runner.New(cfg, pm, noopSolver{}, nil,
		runner.WithObserver(observer),
		runner.WithLogger(log),
		runner.WithWorkerLogs(pm.LogsDir(*subject), *debugLogs),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results := r.Run(ctx, montages)

	m := manifest.FromResults(cfg.SessionID, cfg.Subject, pm.ProjectDir(), pm.SimulationDir(cfg.Subject, ""), time.Now().UTC().Format("20060102T150405Z"), results)
	writer := manifest.JSONFileWriter{Dir: pm.TempDir()}
	if err := writer.Write(m); err != nil {
		log.Error("failed to write completion manifest", err)
		os.Exit(1)
	}

	log.Info(fmt.Sprintf("run complete: %d completed, %d failed", m.Totals.Completed, m.Totals.Failed))
}

// loadMontages flattens a Store's unipolar and multipolar buckets for net
// into []montage.Montage, the shape Runner.Run consumes.
func loadMontages(store montage.Store, net string) ([]montage.Montage, error) {
	data, err := store.Load(net)
	if err != nil {
		return nil, err
	}

	var out []montage.Montage
	for name, pairs := range data.Unipolar {
		out = append(out, montageFrom(name, net, pairs))
	}
	for name, pairs := range data.Multipolar {
		out = append(out, montageFrom(name, net, pairs))
	}
	return out, nil
}

func montageFrom(name, net string, pairs [][2]string) montage.Montage {
	m := montage.Montage{Name: name, EEGNet: net}
	for _, p := range pairs {
		m.Pairs = append(m.Pairs, montage.Pair{Label1: p[0], Label2: p[1]})
	}
	return m
}

// noopSolver is a placeholder Solver: producing a SimNIBS-compatible mesh
// is outside this module's scope (spec.md §6 item 1). A real deployment
// supplies a Solver backed by simnibs_python subprocess calls.
type noopSolver struct{}

func (noopSolver) Run(ctx context.Context, desc session.Description) error {
	return nil
}
