package scheduler

import (
	"fmt"
	"math"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// TuningEnvPrefix prefixes environment overrides for scalar tuning keys,
// e.g. STUDY_TUNING_DISTRIBUTION_TARGET=0.5.
const TuningEnvPrefix = "STUDY_TUNING_"

// Session length names accepted by requests and config.
const (
	SessionShort  = "short"
	SessionMedium = "medium"
	SessionLong   = "long"
)

// CognitiveWindow is a time-of-day band with a learning efficiency coefficient.
type CognitiveWindow struct {
	Name       string  `koanf:"name"`
	Start      string  `koanf:"start"`
	End        string  `koanf:"end"`
	Efficiency float64 `koanf:"efficiency"`
}

// Tuning holds every heuristic table and constant the engine consults.
// Build it with DefaultTuning or LoadTuning; hand-built values must be compiled
// with Compile before use.
type Tuning struct {
	SubjectWeights          map[string]float64 `koanf:"subject_weights"`
	DefaultSubjectWeight    float64            `koanf:"default_subject_weight"`
	ContentMinutes          map[string]int     `koanf:"content_minutes"`
	DefaultContentMinutes   int                `koanf:"default_content_minutes"`
	GradeReference          float64            `koanf:"grade_reference"`
	MaxComplexityMultiplier float64            `koanf:"max_complexity_multiplier"`
	SessionLengths          map[string]int     `koanf:"session_lengths"`
	DistributionTarget      float64            `koanf:"distribution_target"`
	DistributionWeight      float64            `koanf:"distribution_weight"`
	OptimalBonus            float64            `koanf:"optimal_bonus"`
	Windows                 []CognitiveWindow  `koanf:"windows"`
	OptimalWindows          []string           `koanf:"optimal_windows"`
	EmergencyStart          string             `koanf:"emergency_start"`
	EmergencySessionMinutes int                `koanf:"emergency_session_minutes"`
	RebalanceSeverity       float64            `koanf:"rebalance_severity"`
	MaxOptimizerIterations  int                `koanf:"max_optimizer_iterations"`

	bands          []band
	optimal        []Window
	emergencyStart Clock
	compiled       bool
}

type band struct {
	name       string
	window     Window
	efficiency float64
}

// DefaultTuning returns the documented defaults. Unknown subjects weigh 0.5 and
// unknown content types take 45 minutes.
func DefaultTuning() Tuning {
	t := Tuning{
		SubjectWeights: map[string]float64{
			"mathematics":        0.9,
			"math":               0.9,
			"physics":            0.85,
			"chemistry":          0.8,
			"science":            0.8,
			"biology":            0.7,
			"foreign language":   0.7,
			"english":            0.6,
			"language arts":      0.6,
			"history":            0.5,
			"social studies":     0.5,
			"geography":          0.45,
			"art":                0.3,
			"music":              0.3,
			"physical education": 0.2,
		},
		DefaultSubjectWeight: 0.5,
		ContentMinutes: map[string]int{
			"quiz":       20,
			"worksheet":  30,
			"reading":    30,
			"lesson":     45,
			"assignment": 45,
			"review":     30,
			"test":       60,
			"project":    90,
		},
		DefaultContentMinutes:   45,
		GradeReference:          100,
		MaxComplexityMultiplier: 2,
		SessionLengths: map[string]int{
			SessionShort:  30,
			SessionMedium: 45,
			SessionLong:   60,
		},
		DistributionTarget: 0.618,
		DistributionWeight: 0.2,
		OptimalBonus:       0.1,
		Windows: []CognitiveWindow{
			{Name: "peak_morning", Start: "09:00", End: "11:30", Efficiency: 1.0},
			{Name: "midday", Start: "11:30", End: "14:00", Efficiency: 0.8},
			{Name: "afternoon", Start: "14:00", End: "17:00", Efficiency: 0.6},
			{Name: "review", Start: "17:00", End: "18:00", Efficiency: 0.5},
		},
		OptimalWindows:          []string{"09:00-11:00", "15:00-17:00"},
		EmergencyStart:          "16:00",
		EmergencySessionMinutes: 45,
		RebalanceSeverity:       0.7,
		MaxOptimizerIterations:  50,
	}
	if err := t.Compile(); err != nil {
		panic(err)
	}
	return t
}

// LoadTuning layers an optional YAML file and STUDY_TUNING_* env vars over the defaults.
func LoadTuning(path string) (Tuning, error) {
	base := DefaultTuning()

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Tuning{}, fmt.Errorf("load tuning file: %w", err)
		}
	}

	envProvider := env.Provider(TuningEnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(TuningEnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Tuning{}, fmt.Errorf("load tuning env: %w", err)
	}

	cfg := base
	cfg.compiled = false
	if k.Exists("windows") {
		cfg.Windows = nil
	}
	if k.Exists("optimal_windows") {
		cfg.OptimalWindows = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Tuning{}, fmt.Errorf("decode tuning: %w", err)
	}
	if err := cfg.Compile(); err != nil {
		return Tuning{}, err
	}
	return cfg, nil
}

// Compile validates the tables, normalises keys and parses the time bands.
func (t *Tuning) Compile() error {
	if len(t.Windows) == 0 {
		return fmt.Errorf("tuning requires at least one cognitive window")
	}
	if t.DefaultSubjectWeight < 0 || t.DefaultSubjectWeight > 1 {
		return fmt.Errorf("default_subject_weight %v outside [0,1]", t.DefaultSubjectWeight)
	}
	if t.DefaultContentMinutes <= 0 {
		return fmt.Errorf("default_content_minutes must be positive")
	}
	if t.MaxComplexityMultiplier < 1 {
		t.MaxComplexityMultiplier = 1
	}
	if t.EmergencySessionMinutes <= 0 {
		return fmt.Errorf("emergency_session_minutes must be positive")
	}

	weights := make(map[string]float64, len(t.SubjectWeights))
	for name, weight := range t.SubjectWeights {
		if weight < 0 || weight > 1 {
			return fmt.Errorf("subject weight for %q outside [0,1]", name)
		}
		weights[normalizeKey(name)] = weight
	}
	t.SubjectWeights = weights

	minutes := make(map[string]int, len(t.ContentMinutes))
	for name, value := range t.ContentMinutes {
		if value <= 0 {
			return fmt.Errorf("content minutes for %q must be positive", name)
		}
		minutes[normalizeKey(name)] = value
	}
	t.ContentMinutes = minutes

	lengths := make(map[string]int, len(t.SessionLengths))
	for name, value := range t.SessionLengths {
		if value <= 0 {
			return fmt.Errorf("session length %q must be positive", name)
		}
		lengths[normalizeKey(name)] = value
	}
	if _, ok := lengths[SessionMedium]; !ok {
		return fmt.Errorf("session length %q is required", SessionMedium)
	}
	t.SessionLengths = lengths

	bands := make([]band, 0, len(t.Windows))
	for _, w := range t.Windows {
		window, err := ParseWindow(w.Start + "-" + w.End)
		if err != nil {
			return fmt.Errorf("cognitive window %q: %w", w.Name, err)
		}
		if w.Efficiency < 0 || w.Efficiency > 1 {
			return fmt.Errorf("cognitive window %q efficiency outside [0,1]", w.Name)
		}
		bands = append(bands, band{name: w.Name, window: window, efficiency: w.Efficiency})
	}

	optimal, err := ParseWindows(t.OptimalWindows)
	if err != nil {
		return fmt.Errorf("optimal windows: %w", err)
	}

	start, err := ParseClock(t.EmergencyStart)
	if err != nil {
		return fmt.Errorf("emergency_start: %w", err)
	}

	t.bands = bands
	t.optimal = optimal
	t.emergencyStart = start
	t.compiled = true
	return nil
}

// SubjectWeight returns the cognitive load weight for a subject.
func (t Tuning) SubjectWeight(subject string) float64 {
	if w, ok := t.SubjectWeights[normalizeKey(subject)]; ok {
		return w
	}
	return t.DefaultSubjectWeight
}

// BaseMinutes returns the table duration for a content type.
func (t Tuning) BaseMinutes(contentType string) int {
	if m, ok := t.ContentMinutes[normalizeKey(contentType)]; ok {
		return m
	}
	return t.DefaultContentMinutes
}

// ComplexityMultiplier grows with the item's max grade value and is capped.
func (t Tuning) ComplexityMultiplier(maxGrade float64) float64 {
	if maxGrade <= 0 || t.GradeReference <= 0 {
		return 1
	}
	return math.Min(t.MaxComplexityMultiplier, 1+maxGrade/t.GradeReference)
}

// SessionMinutes resolves a session length name, defaulting to medium.
func (t Tuning) SessionMinutes(name string) int {
	if m, ok := t.SessionLengths[normalizeKey(name)]; ok {
		return m
	}
	return t.SessionLengths[SessionMedium]
}

// Band classifies a start time. Times outside every band get the lowest one.
func (t Tuning) Band(c Clock) (string, float64) {
	lowest := t.bands[0]
	for _, b := range t.bands {
		if b.window.Contains(c) {
			return b.name, b.efficiency
		}
		if b.efficiency < lowest.efficiency {
			lowest = b
		}
	}
	return lowest.name, lowest.efficiency
}

// IsOptimal reports whether c falls in a circadian peak window.
func (t Tuning) IsOptimal(c Clock) bool {
	for _, w := range t.optimal {
		if w.Contains(c) {
			return true
		}
	}
	return false
}

func normalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
