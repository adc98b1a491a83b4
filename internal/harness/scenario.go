package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// Default timing used when a scenario leaves it out.
const (
	DefaultFrameIntervalMS   = 16
	DefaultSettleThresholdMS = 36
)

// Scenario defines one deterministic scheduler run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name" json:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description" json:"description"`

	// FrameIntervalMS is the spacing of frames. Default: 16.
	FrameIntervalMS int `yaml:"frame_interval_ms,omitempty" json:"frame_interval_ms,omitempty"`

	// SettleThresholdMS is the settle threshold. Default: 36.
	SettleThresholdMS int `yaml:"settle_threshold_ms,omitempty" json:"settle_threshold_ms,omitempty"`

	// Targets are registered (with fresh views) before frame 1.
	Targets []scheduler.TargetID `yaml:"targets" json:"targets"`

	// Frames lists the steps to perform at given frame numbers.
	Frames []FrameSteps `yaml:"frames" json:"frames"`

	// RunFrames is the number of frames to run. Must cover every frame in
	// Frames.
	RunFrames int `yaml:"run_frames" json:"run_frames"`

	// Assertions validate the trace and final state.
	Assertions []Assertion `yaml:"assertions" json:"assertions"`
}

// FrameSteps are the steps performed during one frame, in order.
type FrameSteps struct {
	Frame int    `yaml:"frame" json:"frame"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is exactly one of enqueue, register, unregister or destroy.
type Step struct {
	Enqueue    *EnqueueStep        `yaml:"enqueue,omitempty" json:"enqueue,omitempty"`
	Register   *scheduler.TargetID `yaml:"register,omitempty" json:"register,omitempty"`
	Unregister *scheduler.TargetID `yaml:"unregister,omitempty" json:"unregister,omitempty"`
	Destroy    *scheduler.TargetID `yaml:"destroy,omitempty" json:"destroy,omitempty"`
}

// EnqueueStep submits a property map for a target.
type EnqueueStep struct {
	Target scheduler.TargetID `yaml:"target" json:"target"`
	Props  props.Map          `yaml:"props" json:"props"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type" json:"type"`

	// Target restricts the assertion to one target. Required by
	// settled_with, applied_state, no_settle_before and no_apply_after.
	Target *scheduler.TargetID `yaml:"target,omitempty" json:"target,omitempty"`

	// Count is the expected number (settle_count, apply_calls, drop_count).
	Count *int `yaml:"count,omitempty" json:"count,omitempty"`

	// Frame is the frame bound (no_settle_before, no_apply_after).
	Frame int `yaml:"frame,omitempty" json:"frame,omitempty"`

	// Props is the expected map (settled_with, applied_state).
	Props props.Map `yaml:"props,omitempty" json:"props,omitempty"`

	// Code restricts drop_count to one drop code.
	Code string `yaml:"code,omitempty" json:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertSettleCount    = "settle_count"
	AssertSettledWith    = "settled_with"
	AssertAppliedState   = "applied_state"
	AssertApplyCalls     = "apply_calls"
	AssertNoSettleBefore = "no_settle_before"
	AssertNoApplyAfter   = "no_apply_after"
	AssertDropCount      = "drop_count"
)

// LoadScenario reads and parses a scenario file. Files ending in .cue are
// evaluated with CUE; everything else is parsed as YAML.
//
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario *Scenario
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		scenario, err = ParseCUE(path, data)
	} else {
		scenario, err = ParseYAML(data)
	}
	if err != nil {
		return nil, err
	}
	return scenario, nil
}

// ParseYAML parses and validates a YAML scenario.
func ParseYAML(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ParseCUE evaluates a CUE scenario and validates it. The CUE value must be
// concrete; it is exported as JSON and decoded with the same field names as
// YAML scenarios.
func ParseCUE(filename string, data []byte) (*Scenario, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE: %w", formatCUEError(err))
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("failed to evaluate CUE: %w", formatCUEError(err))
	}

	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export CUE: %w", formatCUEError(err))
	}

	var scenario Scenario
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to decode CUE scenario: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// formatCUEError keeps the first error and prefixes it with its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if pos := cueerrors.Positions(first); len(pos) > 0 && pos[0].IsValid() {
		return fmt.Errorf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), first.Error())
	}
	return first
}

// validateScenario checks required fields and applies timing defaults.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.FrameIntervalMS == 0 {
		s.FrameIntervalMS = DefaultFrameIntervalMS
	}
	if s.SettleThresholdMS == 0 {
		s.SettleThresholdMS = DefaultSettleThresholdMS
	}
	if s.FrameIntervalMS < 0 {
		return fmt.Errorf("frame_interval_ms must be positive")
	}
	if s.SettleThresholdMS < s.FrameIntervalMS {
		return fmt.Errorf("settle_threshold_ms (%d) must be at least frame_interval_ms (%d)", s.SettleThresholdMS, s.FrameIntervalMS)
	}
	if s.RunFrames <= 0 {
		return fmt.Errorf("run_frames must be positive")
	}

	seen := make(map[scheduler.TargetID]bool, len(s.Targets))
	for _, id := range s.Targets {
		if seen[id] {
			return fmt.Errorf("targets: duplicate target %d", id)
		}
		seen[id] = true
	}

	for i, f := range s.Frames {
		if f.Frame < 1 || f.Frame > s.RunFrames {
			return fmt.Errorf("frames[%d]: frame %d outside 1..%d", i, f.Frame, s.RunFrames)
		}
		for j, step := range f.Steps {
			if err := validateStep(step); err != nil {
				return fmt.Errorf("frames[%d].steps[%d]: %w", i, j, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Enqueue != nil {
		set++
	}
	if step.Register != nil {
		set++
	}
	if step.Unregister != nil {
		set++
	}
	if step.Destroy != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of enqueue, register, unregister, destroy is required (got %d)", set)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertSettleCount, AssertApplyCalls, AssertDropCount:
		if a.Count == nil {
			return fmt.Errorf("count is required for %s", a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("count must be non-negative for %s", a.Type)
		}
	case AssertSettledWith, AssertAppliedState:
		if a.Target == nil {
			return fmt.Errorf("target is required for %s", a.Type)
		}
	case AssertNoSettleBefore, AssertNoApplyAfter:
		if a.Target == nil {
			return fmt.Errorf("target is required for %s", a.Type)
		}
		if a.Frame < 1 {
			return fmt.Errorf("frame is required for %s", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
