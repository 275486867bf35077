// Command disastersim runs one disaster scenario over a synthetic city and
// stores the results.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/paulmach/orb"

	"github.com/talgya/disaster-abm/internal/agents"
	"github.com/talgya/disaster-abm/internal/api"
	"github.com/talgya/disaster-abm/internal/config"
	"github.com/talgya/disaster-abm/internal/engine"
	"github.com/talgya/disaster-abm/internal/persistence"
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

func main() {
	cfgPath := flag.String("config", "", "YAML parameter file (defaults when empty)")
	seed := flag.Int64("seed", 0, "override the random seed")
	ticks := flag.Uint64("ticks", 0, "override the run length in sim-minutes")
	dbPath := flag.String("db", "", "override the result database path")
	port := flag.Int("port", -1, "override the feed port (0 disables)")
	flag.Parse()

	p, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *seed != 0 {
		p.Seed = *seed
	}
	if *ticks != 0 {
		p.Ticks = *ticks
	}
	if *dbPath != "" {
		p.DBPath = *dbPath
	}
	if *port >= 0 {
		p.APIPort = *port
	}

	opts := &slog.HandlerOptions{Level: p.SlogLevel()}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	if err := p.Validate(); err != nil {
		slog.Error("invalid parameters", "error", err)
		os.Exit(1)
	}

	slog.Info("disaster scenario",
		"seed", p.Seed,
		"ticks", p.Ticks,
		"detonation", engine.SimTime(p.DetonationTick),
		"ground_zero", fmt.Sprintf("%.5f,%.5f", p.GroundZeroLon, p.GroundZeroLat),
		"radii_m", fmt.Sprintf("%.0f/%.0f/%.0f", p.R1Meters, p.R2Meters, p.R3Meters),
	)

	// ── City ──────────────────────────────────────────────────────────
	gen := world.DefaultGenConfig()
	gen.Cols, gen.Rows = p.GridCols, p.GridRows
	gen.Spacing = p.GridSpacingDeg
	gen.Center = orb.Point{p.GroundZeroLon, p.GroundZeroLat}
	gen.Seed = p.Seed
	gen.HighwayEvery = p.HighwayEvery
	gen.HighwayKmh = p.HighwayKmh
	gen.ResidentialKmh = p.ResidentialKmh
	gen.WaterLevel = p.WaterLevel
	city := world.Generate(gen)

	for class, n := range world.ClassCounts(city.Graph) {
		slog.Info("roads", "class", world.ClassName(class), "count", n)
	}

	// ── Population ────────────────────────────────────────────────────
	reg := agents.NewRegistry()
	tally := telemetry.NewTally()
	people := agents.NewSpawner(p.Seed, reg, tally).SpawnPopulation(city.Graph, agents.SpawnConfigFrom(p))
	carpools := 0
	if p.Carpool {
		carpools = engine.FormCarpools(reg, city.Graph, tally)
	}
	slog.Info("population ready", "individuals", len(people), "carpools", carpools, "nodes", city.Graph.NodeCount())

	// ── Simulation ────────────────────────────────────────────────────
	sim := engine.NewSimulation(p, city, reg, tally)

	eng := engine.NewEngine()
	eng.OnTick = sim.TickMinute
	eng.OnHour = sim.TickHour
	eng.OnDay = sim.TickDay

	dir := filepath.Dir(p.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("failed to create data directory", "dir", dir, "error", err)
		os.Exit(1)
	}
	db, err := persistence.Open(p.DBPath)
	if err != nil {
		slog.Error("failed to open database", "path", p.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// ── HTTP feed ─────────────────────────────────────────────────────
	if p.APIPort > 0 {
		adminKey := os.Getenv("DISASTERSIM_ADMIN_KEY")
		if adminKey == "" {
			slog.Warn("DISASTERSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		srv := &api.Server{Sim: sim, Eng: eng, DB: db, Port: p.APIPort, AdminKey: adminKey}
		srv.Start()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			slog.Info("received signal, stopping", "signal", sig)
			eng.Stop()
		}()

		fmt.Printf("Feed: http://localhost:%d/api/v1/status\n", p.APIPort)
		eng.Run(p.Ticks)
	} else {
		eng.RunFor(p.Ticks)
	}
	sim.Publish()

	var runID string
	sim.Locked(func() { runID, err = db.SaveRun(sim) })
	if err != nil {
		slog.Error("failed to save run", "error", err)
		os.Exit(1)
	}

	st := sim.Stats()
	fmt.Print(tally.Report())
	fmt.Printf("\nRun %s finished at %s: %s of %s alive, %s dead, %s homeless.\n",
		runID, engine.SimTime(sim.LastTick),
		humanize.Comma(int64(st.Alive)), humanize.Comma(int64(st.Population)),
		humanize.Comma(int64(st.Dead)), humanize.Comma(int64(st.Homeless)),
	)
}
