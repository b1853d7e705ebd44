// Package storage provides optional bun-backed mirrors for the montage
// store and completion manifest. Grounded on the teacher's
// internal/infrastructure/storage.BunStore: a *bun.DB opened over
// pgdriver/pgdialect, per-entity bun.BaseModel structs with
// NewCreateTable().IfNotExists() schema setup and
// NewInsert()...On("CONFLICT (id) DO UPDATE") upserts. Both mirrors here
// are secondary: montage_list.json and the manifest JSON file remain
// authoritative, matching spec.md's file-first persistence model.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/ti-toolbox/tit-core/internal/infrastructure/monitoring"
	"github.com/ti-toolbox/tit-core/manifest"
	"github.com/ti-toolbox/tit-core/montage"
	"github.com/ti-toolbox/tit-core/titerrors"
)

// DB wraps a bun.DB opened against a Postgres DSN, the shape every mirror
// in this package shares.
type DB struct {
	db *bun.DB
}

// Open connects lazily (bun/pgdriver defer the actual TCP dial to first
// query) and returns a DB ready for InitSchema.
func Open(dsn string) *DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return &DB{db: bun.NewDB(sqldb, pgdialect.New())}
}

// InitSchema creates every mirror table this package defines, if absent.
func (d *DB) InitSchema(ctx context.Context) error {
	models := []interface{}{
		(*MontageModel)(nil),
		(*ManifestModel)(nil),
	}
	for _, model := range models {
		if _, err := d.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return titerrors.NewIOError("storage", "failed to create mirror table", err)
		}
	}
	return nil
}

// Ping verifies connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// MontageModel is the bun-mapped mirror row for one (net, mode, name)
// montage entry.
type MontageModel struct {
	bun.BaseModel `bun:"table:montages,alias:mo"`

	ID        uuid.UUID `bun:"id,pk"`
	Net       string    `bun:"net,unique:net_mode_name"`
	Mode      string    `bun:"mode,unique:net_mode_name"`
	Name      string    `bun:"name,unique:net_mode_name"`
	Pairs     string    `bun:"pairs,type:jsonb"` // JSON-encoded [][2]string
	UpdatedAt time.Time `bun:"updated_at"`
}

// NewMontageModel builds the mirror row for an Upsert call.
func NewMontageModel(net, name string, pairs [][2]string, mode montage.Mode) (*MontageModel, error) {
	body, err := json.Marshal(pairs)
	if err != nil {
		return nil, err
	}
	return &MontageModel{
		ID:        uuid.New(),
		Net:       net,
		Mode:      string(mode),
		Name:      name,
		Pairs:     string(body),
		UpdatedAt: time.Now(),
	}, nil
}

// MirrorStore wraps a montage.Store (normally a *montage.JSONFileStore)
// and fans every Upsert through to a bun table after the authoritative
// file write succeeds. Reads (Load/ListNames/EnsureMontageFile) always go
// to the wrapped Store: the mirror exists for downstream SQL consumers,
// never as a read path for this module itself.
type MirrorStore struct {
	montage.Store
	db  *DB
	log *monitoring.Logger
}

// NewMirrorStore wraps store with a bun-backed write-through mirror. log
// may be nil to discard mirror failures silently.
func NewMirrorStore(store montage.Store, db *DB, log *monitoring.Logger) *MirrorStore {
	if log == nil {
		log = monitoring.NewDiscardLogger()
	}
	return &MirrorStore{Store: store, db: db, log: log}
}

// Upsert writes through to the wrapped Store first; a mirror failure is
// logged and never fails the call, since montage_list.json remains the
// single source of truth.
func (m *MirrorStore) Upsert(net, name string, pairs [][2]string, mode montage.Mode) error {
	if err := m.Store.Upsert(net, name, pairs, mode); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	model, err := NewMontageModel(net, name, pairs, mode)
	if err != nil {
		m.log.StepFailed(name, "montage-mirror-encode", err)
		return nil
	}
	if _, err := m.db.db.NewInsert().Model(model).
		On("CONFLICT (net, mode, name) DO UPDATE").
		Set("pairs = EXCLUDED.pairs, updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		m.log.StepFailed(name, "montage-mirror-write", err)
	}
	return nil
}

// ManifestModel is the bun-mapped mirror row for one completion manifest.
type ManifestModel struct {
	bun.BaseModel `bun:"table:completion_manifests,alias:cm"`

	ID            uuid.UUID `bun:"id,pk"`
	SessionID     string    `bun:"session_id"`
	Subject       string    `bun:"subject"`
	ProjectDir    string    `bun:"project_dir"`
	SimulationDir string    `bun:"simulation_dir"`
	Body          string    `bun:"body,type:jsonb"` // full Manifest, JSON-encoded
	Completed     int       `bun:"completed_count"`
	Failed        int       `bun:"failed_count"`
	Timestamp     string    `bun:"timestamp"`
}

// NewManifestModel projects a manifest.Manifest into its mirror row.
func NewManifestModel(m manifest.Manifest) (*ManifestModel, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return &ManifestModel{
		ID:            uuid.New(),
		SessionID:     m.SessionID,
		Subject:       m.Subject,
		ProjectDir:    m.ProjectDir,
		SimulationDir: m.SimulationDir,
		Body:          string(body),
		Completed:     m.Totals.Completed,
		Failed:        m.Totals.Failed,
		Timestamp:     m.Timestamp,
	}, nil
}

// ManifestMirror implements manifest.Writer as a secondary bun-backed
// record of each run's completion manifest, for callers that want to
// query run history via SQL rather than walking derivatives/temp/.
type ManifestMirror struct {
	DB *DB
}

// Write inserts m as a new row; completion manifests are immutable once
// written, so there is no upsert/conflict handling here.
func (w ManifestMirror) Write(m manifest.Manifest) error {
	model, err := NewManifestModel(m)
	if err != nil {
		return titerrors.NewConfigError("manifest", "failed to encode manifest mirror row", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := w.DB.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return titerrors.NewIOError("storage", "failed to write manifest mirror row", err)
	}
	return nil
}
