// Package config holds the run parameters and loads them from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DegreesPerMeter converts the blast radii and on-foot rates to decimal degrees.
const DegreesPerMeter = 1.0 / 111300.0

// Params is the full set of tunables for one simulation run.
type Params struct {
	Seed     int64  `yaml:"seed"`
	Ticks    uint64 `yaml:"ticks"`     // Run length in sim-minutes
	LogLevel string `yaml:"log_level"` // debug | info | warn | error

	// Event.
	DetonationTick uint64  `yaml:"detonation_tick"`
	GroundZeroLon  float64 `yaml:"ground_zero_lon"`
	GroundZeroLat  float64 `yaml:"ground_zero_lat"`
	R1Meters       float64 `yaml:"r1_meters"` // Lethal radius
	R2Meters       float64 `yaml:"r2_meters"` // Collapse / lethal dose radius
	R3Meters       float64 `yaml:"r3_meters"` // Survivable injury radius

	// On-foot movement, meters per minute.
	FleeSlowest float64 `yaml:"flee_slowest_m_per_min"`
	FleeSlow    float64 `yaml:"flee_slow_m_per_min"`
	FleeFast    float64 `yaml:"flee_fast_m_per_min"`

	// Road speeds, km/h.
	HighwayKmh     float64 `yaml:"highway_kmh"`
	ResidentialKmh float64 `yaml:"residential_kmh"`
	DamagedKmh     float64 `yaml:"damaged_kmh"`
	RerouteKmh     float64 `yaml:"reroute_kmh"`

	// Routine.
	CommuteStart  int `yaml:"commute_start"` // hhmm
	CommuteEnd    int `yaml:"commute_end"`   // hhmm
	CommuteJitter int `yaml:"commute_jitter_minutes"`

	// Behavior toggles.
	Carpool             bool `yaml:"carpool"`
	Emergent            bool `yaml:"emergent"`
	MaxGroupSize        int  `yaml:"max_group_size"`
	ChanceShelterAtHome int  `yaml:"chance_shelter_at_home"` // 1 in N
	ChanceShelterAtWork int  `yaml:"chance_shelter_at_work"` // 1 in N

	// Synthetic population and network.
	Population      int     `yaml:"population"`
	ResponderShare  float64 `yaml:"responder_share"`
	StayHomeShare   float64 `yaml:"stay_home_share"`
	GridCols        int     `yaml:"grid_cols"`
	GridRows        int     `yaml:"grid_rows"`
	GridSpacingDeg  float64 `yaml:"grid_spacing_deg"`
	HighwayEvery    int     `yaml:"highway_every"`
	WaterLevel      float64 `yaml:"water_level"`
	ExportNetworkAt uint64  `yaml:"export_network_tick"`

	// Adapters.
	DBPath  string `yaml:"db_path"`
	APIPort int    `yaml:"api_port"` // 0 disables the feed
}

// Default returns the reference scenario: a ground burst at 10:00 on day one.
func Default() Params {
	return Params{
		Seed:     42,
		Ticks:    1440,
		LogLevel: "info",

		DetonationTick: 600,
		GroundZeroLon:  -73.977290,
		GroundZeroLat:  40.764290,
		R1Meters:       430,
		R2Meters:       1200,
		R3Meters:       2500,

		FleeSlowest: 1,
		FleeSlow:    5,
		FleeFast:    10,

		HighwayKmh:     89,
		ResidentialKmh: 40,
		DamagedKmh:     10,
		RerouteKmh:     10,

		CommuteStart: 730,
		CommuteEnd:   1830,

		Carpool:             true,
		Emergent:            true,
		MaxGroupSize:        100,
		ChanceShelterAtHome: 100,
		ChanceShelterAtWork: 100,

		Population:      2000,
		ResponderShare:  0.02,
		StayHomeShare:   0.25,
		GridCols:        60,
		GridRows:        60,
		GridSpacingDeg:  0.002,
		HighwayEvery:    8,
		WaterLevel:      0.78,
		ExportNetworkAt: 615,

		DBPath: "data/disaster.db",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Params, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("config %s: %w", path, err)
	}
	return p, nil
}

// Validate rejects parameter sets the simulation cannot run.
func (p Params) Validate() error {
	var errs []error
	if !(p.R1Meters > 0 && p.R1Meters < p.R2Meters && p.R2Meters < p.R3Meters) {
		errs = append(errs, fmt.Errorf("radii must satisfy 0 < r1 < r2 < r3, got %v/%v/%v",
			p.R1Meters, p.R2Meters, p.R3Meters))
	}
	if p.MaxGroupSize < 2 {
		errs = append(errs, errors.New("max_group_size must be at least 2"))
	}
	if p.ChanceShelterAtHome < 1 || p.ChanceShelterAtWork < 1 {
		errs = append(errs, errors.New("shelter chances must be at least 1"))
	}
	if p.Population < 0 {
		errs = append(errs, errors.New("population must not be negative"))
	}
	if p.GridCols < 2 || p.GridRows < 2 || p.GridSpacingDeg <= 0 {
		errs = append(errs, errors.New("grid needs at least 2x2 nodes and a positive spacing"))
	}
	if !validHHMM(p.CommuteStart) || !validHHMM(p.CommuteEnd) {
		errs = append(errs, fmt.Errorf("commute times must be hhmm, got %d/%d", p.CommuteStart, p.CommuteEnd))
	}
	return errors.Join(errs...)
}

func validHHMM(t int) bool {
	return t >= 0 && t/100 < 24 && t%100 < 60
}

// Z1 returns the lethal radius in degrees.
func (p Params) Z1() float64 { return p.R1Meters * DegreesPerMeter }

// Z2 returns the severe-injury radius in degrees.
func (p Params) Z2() float64 { return p.R2Meters * DegreesPerMeter }

// Z3 returns the outer damage radius in degrees.
func (p Params) Z3() float64 { return p.R3Meters * DegreesPerMeter }

// FleeSlowestDeg is the slowest on-foot rate in degrees per tick.
func (p Params) FleeSlowestDeg() float64 { return p.FleeSlowest * DegreesPerMeter }

// FleeSlowDeg is the slow on-foot rate in degrees per tick.
func (p Params) FleeSlowDeg() float64 { return p.FleeSlow * DegreesPerMeter }

// FleeFastDeg is the fast on-foot rate in degrees per tick.
func (p Params) FleeFastDeg() float64 { return p.FleeFast * DegreesPerMeter }

// SlogLevel maps LogLevel onto slog levels, defaulting to info.
func (p Params) SlogLevel() slog.Level {
	switch strings.ToLower(p.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
