package cosim

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defaults.
const (
	DefaultStart      = "2021-01-01T00:00:00Z"
	DefaultStep       = time.Minute
	DefaultDuration   = 24 * time.Hour
	DefaultTimeOffset = time.Second
	DefaultResults    = "results"
	DefaultFederates  = 2
	DefaultPrefix     = "cosim"
	DefaultTimeout    = 30 * time.Second
)

// Scenario is the YAML description of one co-simulation run.
// All top-level sections must be listed to satisfy KnownFields(true).
// Step and Duration are pointers so an explicit zero is kept: a zero
// duration is a single-step run and a zero step fails validation.
type Scenario struct {
	Start    string         `yaml:"start"`
	Step     *time.Duration `yaml:"step"`
	Duration *time.Duration `yaml:"duration"`
	Broker   BrokerSpec     `yaml:"broker"`
	Source   SourceSpec     `yaml:"source"`
	Grid     GridSpec       `yaml:"grid"`
	Results  string         `yaml:"results"`

	// dir is the directory of the scenario file; relative paths resolve
	// against it.
	dir   string
	start time.Time
}

// BrokerSpec configures the coordination service.
type BrokerSpec struct {
	Federates int           `yaml:"federates"`
	URL       string        `yaml:"url"`
	Prefix    string        `yaml:"prefix"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SourceSpec describes the setpoint producer.
type SourceSpec struct {
	Name     string              `yaml:"name"`
	Channels []SourceChannelSpec `yaml:"channels"`
}

// SourceChannelSpec is one published channel: inline ratings and a profile file.
type SourceChannelSpec struct {
	Key     string             `yaml:"key"`
	Ratings map[string]float64 `yaml:"ratings"`
	Profile string             `yaml:"profile"`
}

// GridSpec describes the setpoint consumer and its circuit.
type GridSpec struct {
	Name            string            `yaml:"name"`
	TimeOffset      *time.Duration    `yaml:"time_offset"`
	Circuit         CircuitConfig     `yaml:"circuit"`
	Commands        []string          `yaml:"commands"`
	InfoClasses     []string          `yaml:"info_classes"`
	MaxPayloadBytes int               `yaml:"max_payload_bytes"`
	Channels        []GridChannelSpec `yaml:"channels"`
	Elements        []ElementMetric   `yaml:"elements"`
}

// GridChannelSpec is one subscribed channel on the grid side.
type GridChannelSpec struct {
	Key      string `yaml:"key"`
	Class    string `yaml:"class"`
	Polarity string `yaml:"polarity"`
	Voltage  bool   `yaml:"voltage"`
	SOC      bool   `yaml:"soc"`
}

// LoadScenario reads, defaults and validates a scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	sc.dir = filepath.Dir(path)
	return sc, nil
}

// ParseScenario decodes a scenario from YAML. Relative paths resolve
// against the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	sc.applyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Scenario) applyDefaults() {
	if s.Start == "" {
		s.Start = DefaultStart
	}
	if s.Step == nil {
		step := DefaultStep
		s.Step = &step
	}
	if s.Duration == nil {
		duration := DefaultDuration
		s.Duration = &duration
	}
	if s.Results == "" {
		s.Results = DefaultResults
	}
	if s.Broker.Federates == 0 {
		s.Broker.Federates = DefaultFederates
	}
	if s.Broker.Prefix == "" {
		s.Broker.Prefix = DefaultPrefix
	}
	if s.Broker.Timeout == 0 {
		s.Broker.Timeout = DefaultTimeout
	}
	if s.Source.Name == "" {
		s.Source.Name = "source"
	}
	if s.Grid.Name == "" {
		s.Grid.Name = "grid"
	}
	if s.Grid.TimeOffset == nil {
		offset := DefaultTimeOffset
		s.Grid.TimeOffset = &offset
	}
	if s.Grid.InfoClasses == nil {
		s.Grid.InfoClasses = []string{"Load"}
	}
	if s.Grid.MaxPayloadBytes == 0 {
		s.Grid.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
}

// Validate checks that every field is usable.
func (s *Scenario) Validate() error {
	start, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	s.start = start
	if err := s.Schedule().Validate(); err != nil {
		return err
	}
	if s.Broker.Federates < 1 {
		return fmt.Errorf("broker.federates must be positive, got %d", s.Broker.Federates)
	}
	if s.Broker.Timeout < 0 {
		return fmt.Errorf("broker.timeout must not be negative, got %s", s.Broker.Timeout)
	}
	if s.Source.Name == s.Grid.Name {
		return fmt.Errorf("source and grid federates share the name %q", s.Source.Name)
	}
	if *s.Grid.TimeOffset < 0 {
		return fmt.Errorf("grid.time_offset must not be negative, got %s", *s.Grid.TimeOffset)
	}
	if s.Grid.MaxPayloadBytes < 0 {
		return fmt.Errorf("grid.max_payload_bytes must not be negative, got %d", s.Grid.MaxPayloadBytes)
	}

	keys := make(map[string]bool)
	for i, ch := range s.Source.Channels {
		if ch.Key == "" {
			return fmt.Errorf("source.channels[%d]: key is required", i)
		}
		if keys[ch.Key] {
			return fmt.Errorf("source.channels[%d]: duplicate key %q", i, ch.Key)
		}
		keys[ch.Key] = true
		if ch.Profile == "" {
			return fmt.Errorf("source.channels[%d]: profile is required", i)
		}
		if len(ch.Ratings) == 0 {
			return fmt.Errorf("source.channels[%d]: at least one rating is required", i)
		}
	}
	subs := make(map[string]bool)
	for i, ch := range s.Grid.Channels {
		if ch.Key == "" || ch.Class == "" {
			return fmt.Errorf("grid.channels[%d]: key and class are required", i)
		}
		if subs[ch.Key] {
			return fmt.Errorf("grid.channels[%d]: duplicate key %q", i, ch.Key)
		}
		subs[ch.Key] = true
		if _, err := ParsePolarity(ch.Polarity); err != nil {
			return fmt.Errorf("grid.channels[%d]: %w", i, err)
		}
	}
	for i, m := range s.Grid.Elements {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("grid.elements[%d]: %w", i, err)
		}
	}
	return nil
}

// Schedule returns the run's timeline.
func (s *Scenario) Schedule() Schedule {
	return Schedule{Start: s.start, Step: *s.Step, Duration: *s.Duration}
}

// Path resolves p relative to the scenario file.
func (s *Scenario) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || s.dir == "" {
		return p
	}
	return filepath.Join(s.dir, p)
}

// SourceConfig loads every profile and builds the producer configuration.
// Profiles shorter than the schedule fail here rather than mid-run.
func (s *Scenario) SourceConfig(obs Observers) (SourceConfig, error) {
	sched := s.Schedule()
	cfg := SourceConfig{Schedule: sched, Observers: obs}
	for _, ch := range s.Source.Channels {
		profile, err := LoadProfileCSV(s.Path(ch.Profile))
		if err != nil {
			return SourceConfig{}, fmt.Errorf("channel %s: %w", ch.Key, err)
		}
		if len(profile) < sched.Steps() {
			return SourceConfig{}, fmt.Errorf("channel %s: %w: %d values for %d steps",
				ch.Key, ErrProfileOverrun, len(profile), sched.Steps())
		}
		cfg.Channels = append(cfg.Channels, SourceChannel{
			Key:     ch.Key,
			Ratings: Ratings(ch.Ratings),
			Profile: profile,
		})
	}
	return cfg, nil
}

// GridConfig builds the consumer configuration.
func (s *Scenario) GridConfig(obs Observers) GridConfig {
	cfg := GridConfig{
		Schedule:        s.Schedule(),
		TimeOffset:      *s.Grid.TimeOffset,
		Elements:        s.Grid.Elements,
		InfoClasses:     s.Grid.InfoClasses,
		Commands:        s.Grid.Commands,
		MaxPayloadBytes: s.Grid.MaxPayloadBytes,
		Observers:       obs,
	}
	for _, ch := range s.Grid.Channels {
		polarity, _ := ParsePolarity(ch.Polarity)
		cfg.Channels = append(cfg.Channels, GridChannel{
			Key:       ch.Key,
			Class:     ch.Class,
			Polarity:  polarity,
			Telemetry: Telemetry{Voltage: ch.Voltage, SOC: ch.SOC},
		})
	}
	return cfg
}

// CircuitConfig returns the solver configuration with file paths resolved.
func (s *Scenario) CircuitConfig() CircuitConfig {
	cfg := CircuitConfig{Backend: s.Grid.Circuit.Backend}
	for _, f := range s.Grid.Circuit.Files {
		cfg.Files = append(cfg.Files, s.Path(f))
	}
	return cfg
}

// ResultsTarget resolves the results target. Only plain directory paths are
// resolved against the scenario file; URLs pass through.
func (s *Scenario) ResultsTarget() string {
	if isURL(s.Results) {
		return s.Results
	}
	return s.Path(s.Results)
}

func isURL(target string) bool {
	return strings.Contains(target, "://")
}
