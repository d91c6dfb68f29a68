package world

import (
	"bytes"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"crashsim/internal/fem"
)

// Config is the recognized-options struct for the whole simulation. Unknown
// YAML keys are rejected so a typo cannot silently fall back to a default.
type Config struct {
	// Contact solver.
	VelocityIterations int     `yaml:"velocity_iterations"`
	PositionIterations int     `yaml:"position_iterations"`
	ConvergenceTol     float64 `yaml:"convergence_tolerance"`
	BaumgarteFactor    float64 `yaml:"baumgarte_factor"`
	ContactSlop        float64 `yaml:"contact_slop"`
	WarmStartFactor    float64 `yaml:"warm_start_factor"`

	// Defaults applied to contacts; bodies can override per body.
	Restitution float64 `yaml:"restitution"`
	Friction    float64 `yaml:"friction"`

	// Rigid body integration and sleeping.
	Damping                float64 `yaml:"damping"`
	SleepVelocityThreshold float64 `yaml:"sleep_velocity_threshold"`
	SleepAngularThreshold  float64 `yaml:"sleep_angular_threshold"`
	SleepTimeThreshold     float64 `yaml:"sleep_time_threshold"`

	// Deformable bodies.
	EnablePlasticity bool    `yaml:"enable_plasticity"`
	YieldThreshold   float64 `yaml:"yield_threshold"`
	PlasticFlow      float64 `yaml:"plastic_flow"`
	FEMMethod        string  `yaml:"fem_method"` // "semi-implicit" or "explicit-euler"

	// Concurrency. Deterministic forces all phases onto one goroutine; with
	// it off, phases fan out over Workers but still merge in body-index
	// order, so trajectories stay reproducible either way.
	Workers       int  `yaml:"workers"`
	Deterministic bool `yaml:"deterministic"`
}

// ConfigError reports a rejected configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("world: config field %s: %s", e.Field, e.Reason)
}

// DefaultConfig returns the tuning used when no file is supplied.
func DefaultConfig() Config {
	return Config{
		VelocityIterations:     8,
		PositionIterations:     3,
		ConvergenceTol:         1e-3,
		BaumgarteFactor:        0.2,
		ContactSlop:            0.005,
		WarmStartFactor:        1.0,
		Restitution:            0.1,
		Friction:               0.6,
		Damping:                0.02,
		SleepVelocityThreshold: 0.05,
		SleepAngularThreshold:  0.05,
		SleepTimeThreshold:     0.5,
		EnablePlasticity:       true,
		YieldThreshold:         1.0,
		PlasticFlow:            0.5,
		FEMMethod:              "semi-implicit",
		Workers:                runtime.GOMAXPROCS(0),
		Deterministic:          true,
	}
}

// LoadConfig reads a YAML config file. A missing file is not an error; the
// defaults are returned so a bare checkout runs without setup.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("world: reading config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("world: parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// Validate rejects unusable values with a ConfigError naming the field.
func (c *Config) Validate() error {
	switch {
	case c.VelocityIterations < 1:
		return &ConfigError{"velocity_iterations", "must be at least 1"}
	case c.PositionIterations < 0:
		return &ConfigError{"position_iterations", "must not be negative"}
	case c.ConvergenceTol <= 0:
		return &ConfigError{"convergence_tolerance", "must be positive"}
	case c.BaumgarteFactor < 0 || c.BaumgarteFactor > 1:
		return &ConfigError{"baumgarte_factor", "must be in [0, 1]"}
	case c.ContactSlop < 0:
		return &ConfigError{"contact_slop", "must not be negative"}
	case c.WarmStartFactor < 0 || c.WarmStartFactor > 1:
		return &ConfigError{"warm_start_factor", "must be in [0, 1]"}
	case c.Restitution < 0 || c.Restitution > 1:
		return &ConfigError{"restitution", "must be in [0, 1]"}
	case c.Friction < 0:
		return &ConfigError{"friction", "must not be negative"}
	case c.Damping < 0:
		return &ConfigError{"damping", "must not be negative"}
	case c.YieldThreshold <= 0:
		return &ConfigError{"yield_threshold", "must be positive"}
	case c.PlasticFlow < 0 || c.PlasticFlow > 1:
		return &ConfigError{"plastic_flow", "must be in [0, 1]"}
	case c.Workers < 1:
		return &ConfigError{"workers", "must be at least 1"}
	}
	if _, err := c.femMethod(); err != nil {
		return err
	}
	return nil
}

func (c *Config) femMethod() (fem.Method, error) {
	switch c.FEMMethod {
	case "", "semi-implicit":
		return fem.SemiImplicit, nil
	case "explicit-euler":
		return fem.ExplicitEuler, nil
	}
	return 0, &ConfigError{"fem_method", fmt.Sprintf("unknown method %q", c.FEMMethod)}
}
