// Package persistence provides SQLite-based storage for run results.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/disaster-abm/internal/agents"
	"github.com/talgya/disaster-abm/internal/engine"
)

// Network edge kinds.
const (
	NetworkHousehold = "household"
	NetworkEmergent  = "emergent"
)

// DB wraps a SQLite connection for run results.
type DB struct {
	conn *sqlx.DB
}

// Run is one stored simulation run.
type Run struct {
	ID         string `db:"id" json:"id"`
	StartedAt  string `db:"started_at" json:"started_at"`
	Seed       int64  `db:"seed" json:"seed"`
	LastTick   uint64 `db:"last_tick" json:"last_tick"`
	Population int    `db:"population" json:"population"`
	Dead       int    `db:"dead" json:"dead"`
	ParamsJSON string `db:"params_json" json:"-"`
}

// AgentRow is the end-of-run summary of one individual.
type AgentRow struct {
	RunID     string  `db:"run_id"`
	ID        uint64  `db:"id"`
	Age       int     `db:"age"`
	Lon       float64 `db:"lon"`
	Lat       float64 `db:"lat"`
	Severity  int     `db:"severity"`
	Status    int     `db:"status"`
	Dead      bool    `db:"dead"`
	Zone      int     `db:"zone"`
	Dose      int     `db:"dose"`
	Goal      string  `db:"goal"`
	Homeless  bool    `db:"homeless"`
	Responder bool    `db:"responder"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		seed INTEGER NOT NULL,
		last_tick INTEGER NOT NULL,
		population INTEGER NOT NULL,
		dead INTEGER NOT NULL,
		params_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		run_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		age INTEGER NOT NULL,
		lon REAL NOT NULL,
		lat REAL NOT NULL,
		severity INTEGER NOT NULL,
		status INTEGER NOT NULL,
		dead INTEGER NOT NULL,
		zone INTEGER NOT NULL,
		dose INTEGER NOT NULL,
		goal TEXT NOT NULL,
		homeless INTEGER NOT NULL,
		responder INTEGER NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS network_edges (
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS counters (
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (run_id, name)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_edges_run ON network_edges(run_id, kind);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun writes the full result set of a run and returns its id. The
// simulation must not be stepping; see Simulation.Locked.
func (db *DB) SaveRun(sim *engine.Simulation) (string, error) {
	id := uuid.NewString()
	individuals := sim.Registry.Individuals()
	slog.Info("saving run", "run", id, "agents", len(individuals))

	params, err := json.Marshal(sim.Params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	dead := 0
	for _, a := range individuals {
		if a.Indv.Dead {
			dead++
		}
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO runs
		(id, started_at, seed, last_tick, population, dead, params_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339), sim.Params.Seed, sim.LastTick,
		len(individuals), dead, string(params),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	if err := saveAgents(tx, id, individuals); err != nil {
		return "", fmt.Errorf("save agents: %w", err)
	}

	household := engine.HouseholdNetwork(sim.Registry)
	emergent := sim.Network
	if emergent == nil {
		emergent = engine.EmergentNetwork(sim.Registry)
	}
	if err := saveEdges(tx, id, NetworkHousehold, household); err != nil {
		return "", fmt.Errorf("save household network: %w", err)
	}
	if err := saveEdges(tx, id, NetworkEmergent, emergent); err != nil {
		return "", fmt.Errorf("save emergent network: %w", err)
	}

	for name, v := range sim.Counters.Snapshot() {
		if _, err := tx.Exec("INSERT INTO counters (run_id, name, value) VALUES (?, ?, ?)", id, name, v); err != nil {
			return "", fmt.Errorf("insert counter %s: %w", name, err)
		}
	}

	for _, e := range sim.Events(0) {
		_, err := tx.Exec(
			"INSERT INTO events (run_id, tick, description, category) VALUES (?, ?, ?, ?)",
			id, e.Tick, e.Description, e.Category,
		)
		if err != nil {
			return "", fmt.Errorf("insert event: %w", err)
		}
	}

	if _, err := tx.Exec("INSERT OR REPLACE INTO run_meta (key, value) VALUES ('last_run', ?)", id); err != nil {
		return "", fmt.Errorf("save meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	slog.Info("run saved", "run", id, "household_edges", len(household), "emergent_edges", len(emergent))
	return id, nil
}

func saveAgents(tx *sqlx.Tx, runID string, list []*agents.Agent) error {
	stmt, err := tx.Preparex(`INSERT INTO agents
		(run_id, id, age, lon, lat, severity, status, dead, zone, dose, goal, homeless, responder)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range list {
		p := a.Indv
		_, err := stmt.Exec(
			runID, a.ID, p.Age, a.Coord[0], a.Coord[1],
			a.Severity, a.HealthStatus(), p.Dead, int(p.Zone), p.Dose,
			a.Goal.String(), p.Homeless, p.FirstResponder,
		)
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}
	return nil
}

func saveEdges(tx *sqlx.Tx, runID, kind string, edges []engine.Edge) error {
	stmt, err := tx.Preparex("INSERT INTO network_edges (run_id, kind, from_id, to_id) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.Exec(runID, kind, e.From, e.To); err != nil {
			return err
		}
	}
	return nil
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE key = ?", key)
	return value, err
}

// GetRun loads the run record with the given id.
func (db *DB) GetRun(id string) (Run, error) {
	var r Run
	err := db.conn.Get(&r, "SELECT id, started_at, seed, last_tick, population, dead, params_json FROM runs WHERE id = ?", id)
	return r, err
}

// Agents returns the stored agent summaries of a run, by id.
func (db *DB) Agents(runID string) ([]AgentRow, error) {
	var rows []AgentRow
	err := db.conn.Select(&rows, "SELECT * FROM agents WHERE run_id = ? ORDER BY id", runID)
	return rows, err
}

// Edges returns the stored network edges of one kind.
func (db *DB) Edges(runID, kind string) ([]engine.Edge, error) {
	var edges []engine.Edge
	err := db.conn.Select(&edges,
		"SELECT from_id AS \"from\", to_id AS \"to\" FROM network_edges WHERE run_id = ? AND kind = ? ORDER BY from_id, to_id",
		runID, kind,
	)
	return edges, err
}

// Counters returns the stored counters of a run.
func (db *DB) Counters(runID string) (map[string]int, error) {
	var rows []struct {
		Name  string `db:"name"`
		Value int    `db:"value"`
	}
	if err := db.conn.Select(&rows, "SELECT name, value FROM counters WHERE run_id = ?", runID); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Value
	}
	return out, nil
}

// RecentEvents returns the most recent N events of a run.
func (db *DB) RecentEvents(runID string, limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT tick, description, category FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?",
		runID, limit,
	)
	return events, err
}
