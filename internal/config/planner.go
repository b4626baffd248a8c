package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical planner defaults file.
const DefaultConfigPath = "config/planner.defaults.json"

// Log levels accepted by log_level, from quietest to noisiest.
const (
	LogLevelNone  = "none"
	LogLevelOps   = "ops"
	LogLevelDiag  = "diag"
	LogLevelTrace = "trace"
)

// PlannerConfig holds planner tuning. Every field is optional; the Get*
// methods supply defaults for fields left out of the JSON, so partial files
// are safe. Request fields override the weights per solve.
type PlannerConfig struct {
	// Cost weights
	WeightDDX         *float64 `json:"weight_ddx,omitempty"`
	WeightDDDX        *float64 `json:"weight_dddx,omitempty"`
	WeightXReference  *float64 `json:"weight_x_reference,omitempty"`
	WeightDXReference *float64 `json:"weight_dx_reference,omitempty"`
	WeightEndX        *float64 `json:"weight_end_x,omitempty"`
	WeightEndDX       *float64 `json:"weight_end_dx,omitempty"`
	WeightEndDDX      *float64 `json:"weight_end_ddx,omitempty"`

	// Solver params
	MaxIter     *int     `json:"max_iter,omitempty"`
	EpsAbs      *float64 `json:"eps_abs,omitempty"`
	EpsRel      *float64 `json:"eps_rel,omitempty"`
	EpsPrimInf  *float64 `json:"eps_prim_inf,omitempty"`
	Rho         *float64 `json:"rho,omitempty"`
	Sigma       *float64 `json:"sigma,omitempty"`
	Alpha       *float64 `json:"alpha,omitempty"`
	AdaptiveRho *bool    `json:"adaptive_rho,omitempty"`
	Polish      *bool    `json:"polish,omitempty"`

	// Service params
	TimeBudget          *string `json:"time_budget,omitempty"` // duration string like "50ms"
	MaxConcurrentSolves *int    `json:"max_concurrent_solves,omitempty"`
	LogLevel            *string `json:"log_level,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPlannerConfig returns a PlannerConfig with all fields unset.
func EmptyPlannerConfig() *PlannerConfig {
	return &PlannerConfig{}
}

// DefaultPlannerConfig returns a PlannerConfig with every field set to its
// default. It matches config/planner.defaults.json.
func DefaultPlannerConfig() *PlannerConfig {
	c := EmptyPlannerConfig()
	return &PlannerConfig{
		WeightDDX:           ptrFloat64(c.GetWeightDDX()),
		WeightDDDX:          ptrFloat64(c.GetWeightDDDX()),
		WeightXReference:    ptrFloat64(c.GetWeightXReference()),
		WeightDXReference:   ptrFloat64(c.GetWeightDXReference()),
		WeightEndX:          ptrFloat64(c.GetWeightEndX()),
		WeightEndDX:         ptrFloat64(c.GetWeightEndDX()),
		WeightEndDDX:        ptrFloat64(c.GetWeightEndDDX()),
		MaxIter:             ptrInt(c.GetMaxIter()),
		EpsAbs:              ptrFloat64(c.GetEpsAbs()),
		EpsRel:              ptrFloat64(c.GetEpsRel()),
		EpsPrimInf:          ptrFloat64(c.GetEpsPrimInf()),
		Rho:                 ptrFloat64(c.GetRho()),
		Sigma:               ptrFloat64(c.GetSigma()),
		Alpha:               ptrFloat64(c.GetAlpha()),
		AdaptiveRho:         ptrBool(c.GetAdaptiveRho()),
		Polish:              ptrBool(c.GetPolish()),
		TimeBudget:          ptrString(c.GetTimeBudget().String()),
		MaxConcurrentSolves: ptrInt(c.GetMaxConcurrentSolves()),
		LogLevel:            ptrString(c.GetLogLevel()),
	}
}

// LoadPlannerConfig loads a PlannerConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadPlannerConfig(path string) (*PlannerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPlannerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *PlannerConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/sweep/ or deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadPlannerConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the set values are usable.
func (c *PlannerConfig) Validate() error {
	weights := []struct {
		name string
		v    *float64
	}{
		{"weight_ddx", c.WeightDDX},
		{"weight_dddx", c.WeightDDDX},
		{"weight_x_reference", c.WeightXReference},
		{"weight_dx_reference", c.WeightDXReference},
		{"weight_end_x", c.WeightEndX},
		{"weight_end_dx", c.WeightEndDX},
		{"weight_end_ddx", c.WeightEndDDX},
	}
	for _, w := range weights {
		if w.v != nil && *w.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", w.name, *w.v)
		}
	}

	if c.MaxIter != nil && *c.MaxIter <= 0 {
		return fmt.Errorf("max_iter must be positive, got %d", *c.MaxIter)
	}
	positives := []struct {
		name string
		v    *float64
	}{
		{"eps_abs", c.EpsAbs},
		{"eps_rel", c.EpsRel},
		{"eps_prim_inf", c.EpsPrimInf},
		{"rho", c.Rho},
		{"sigma", c.Sigma},
	}
	for _, p := range positives {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %g", p.name, *p.v)
		}
	}
	if c.Alpha != nil && (*c.Alpha <= 0 || *c.Alpha >= 2) {
		return fmt.Errorf("alpha must be in (0, 2), got %f", *c.Alpha)
	}

	if c.TimeBudget != nil && *c.TimeBudget != "" {
		d, err := time.ParseDuration(*c.TimeBudget)
		if err != nil {
			return fmt.Errorf("invalid time_budget '%s': %w", *c.TimeBudget, err)
		}
		if d <= 0 {
			return fmt.Errorf("time_budget must be positive, got %s", d)
		}
	}
	if c.MaxConcurrentSolves != nil && *c.MaxConcurrentSolves < 1 {
		return fmt.Errorf("max_concurrent_solves must be at least 1, got %d", *c.MaxConcurrentSolves)
	}
	if c.LogLevel != nil {
		switch *c.LogLevel {
		case LogLevelNone, LogLevelOps, LogLevelDiag, LogLevelTrace:
		default:
			return fmt.Errorf("log_level must be one of none, ops, diag, trace; got %q", *c.LogLevel)
		}
	}
	return nil
}

// GetWeightDDX returns the weight_ddx value or the default.
func (c *PlannerConfig) GetWeightDDX() float64 {
	if c.WeightDDX == nil {
		return 0
	}
	return *c.WeightDDX
}

// GetWeightDDDX returns the weight_dddx value or the default.
func (c *PlannerConfig) GetWeightDDDX() float64 {
	if c.WeightDDDX == nil {
		return 1.0
	}
	return *c.WeightDDDX
}

// GetWeightXReference returns the weight_x_reference value or the default.
func (c *PlannerConfig) GetWeightXReference() float64 {
	if c.WeightXReference == nil {
		return 1.0
	}
	return *c.WeightXReference
}

// GetWeightDXReference returns the weight_dx_reference value or the default.
func (c *PlannerConfig) GetWeightDXReference() float64 {
	if c.WeightDXReference == nil {
		return 1.0
	}
	return *c.WeightDXReference
}

// GetWeightEndX returns the weight_end_x value or the default.
func (c *PlannerConfig) GetWeightEndX() float64 {
	if c.WeightEndX == nil {
		return 0
	}
	return *c.WeightEndX
}

// GetWeightEndDX returns the weight_end_dx value or the default.
func (c *PlannerConfig) GetWeightEndDX() float64 {
	if c.WeightEndDX == nil {
		return 0
	}
	return *c.WeightEndDX
}

// GetWeightEndDDX returns the weight_end_ddx value or the default.
func (c *PlannerConfig) GetWeightEndDDX() float64 {
	if c.WeightEndDDX == nil {
		return 0
	}
	return *c.WeightEndDDX
}

// GetMaxIter returns the max_iter value or the default.
func (c *PlannerConfig) GetMaxIter() int {
	if c.MaxIter == nil {
		return 4000
	}
	return *c.MaxIter
}

// GetEpsAbs returns the eps_abs value or the default.
func (c *PlannerConfig) GetEpsAbs() float64 {
	if c.EpsAbs == nil {
		return 1e-5
	}
	return *c.EpsAbs
}

// GetEpsRel returns the eps_rel value or the default.
func (c *PlannerConfig) GetEpsRel() float64 {
	if c.EpsRel == nil {
		return 1e-5
	}
	return *c.EpsRel
}

// GetEpsPrimInf returns the eps_prim_inf value or the default.
func (c *PlannerConfig) GetEpsPrimInf() float64 {
	if c.EpsPrimInf == nil {
		return 1e-6
	}
	return *c.EpsPrimInf
}

// GetRho returns the rho value or the default.
func (c *PlannerConfig) GetRho() float64 {
	if c.Rho == nil {
		return 0.1
	}
	return *c.Rho
}

// GetSigma returns the sigma value or the default.
func (c *PlannerConfig) GetSigma() float64 {
	if c.Sigma == nil {
		return 1e-6
	}
	return *c.Sigma
}

// GetAlpha returns the alpha value or the default.
func (c *PlannerConfig) GetAlpha() float64 {
	if c.Alpha == nil {
		return 1.6
	}
	return *c.Alpha
}

// GetAdaptiveRho returns the adaptive_rho value or the default.
func (c *PlannerConfig) GetAdaptiveRho() bool {
	if c.AdaptiveRho == nil {
		return true
	}
	return *c.AdaptiveRho
}

// GetPolish returns the polish value or the default.
func (c *PlannerConfig) GetPolish() bool {
	if c.Polish == nil {
		return true
	}
	return *c.Polish
}

// GetTimeBudget parses and returns the TimeBudget as a time.Duration.
func (c *PlannerConfig) GetTimeBudget() time.Duration {
	if c.TimeBudget == nil || *c.TimeBudget == "" {
		return 50 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TimeBudget)
	if err != nil || d <= 0 {
		return 50 * time.Millisecond // default on parse error
	}
	return d
}

// GetMaxConcurrentSolves returns the max_concurrent_solves value or the default.
func (c *PlannerConfig) GetMaxConcurrentSolves() int {
	if c.MaxConcurrentSolves == nil {
		return 4
	}
	return *c.MaxConcurrentSolves
}

// GetLogLevel returns the log_level value or the default.
func (c *PlannerConfig) GetLogLevel() string {
	if c.LogLevel == nil {
		return LogLevelOps
	}
	return *c.LogLevel
}
