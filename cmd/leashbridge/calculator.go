package main

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// CalculatorType selects how leash inputs are mapped to movement.
//
// Location: direction and speed follow the collider distances. Smooth and
// precise when pulling slowly, but full speed depends on collider sizing.
//
// Stretch: direction follows the colliders, speed follows the stretch amount.
// Full speed is reachable without precise collider placement.
//
// Combined: Stretch up to the cutover stretch, Location above it.
type CalculatorType uint8

const (
	CalculatorLocation CalculatorType = iota
	CalculatorStretch
	CalculatorCombined
)

func (c CalculatorType) String() string {
	switch c {
	case CalculatorLocation:
		return "location"
	case CalculatorStretch:
		return "stretch"
	case CalculatorCombined:
		return "combined"
	default:
		return fmt.Sprintf("CalculatorType(%d)", uint8(c))
	}
}

// ParseCalculatorType parses a calculator name. Unknown names return
// CalculatorLocation together with an error.
func ParseCalculatorType(s string) (CalculatorType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "location", "position":
		return CalculatorLocation, nil
	case "stretch":
		return CalculatorStretch, nil
	case "combined", "stretch_position":
		return CalculatorCombined, nil
	default:
		return CalculatorLocation, fmt.Errorf("unknown calculator %q (must be location, stretch, or combined)", s)
	}
}

func (c CalculatorType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CalculatorType) UnmarshalText(b []byte) error {
	v, err := ParseCalculatorType(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// MovementOutput is the movement input sent to VRChat for one tick.
// Compared with ==; no epsilon.
type MovementOutput struct {
	VerticalOffset   float32 `json:"vertical_offset"`
	HorizontalOffset float32 `json:"horizontal_offset"`
	HorizontalLook   float32 `json:"horizontal_look"`
	ShouldRun        bool    `json:"should_run"`
}

// Calculate maps one snapshot to movement using the selected calculator.
// Unknown calculator values fall back to Location.
func Calculate(kind CalculatorType, p ParameterSnapshot, t Thresholds, previous MovementOutput, cutover float32) MovementOutput {
	switch kind {
	case CalculatorStretch:
		return calculateStretch(p, t, previous)
	case CalculatorCombined:
		return calculateCombined(p, t, previous, cutover)
	default:
		return calculateLocation(p, t, previous)
	}
}

// calculateLocation derives offsets from the collider distances scaled by stretch.
func calculateLocation(p ParameterSnapshot, t Thresholds, previous MovementOutput) MovementOutput {
	if !leashActive(p, t) {
		return MovementOutput{}
	}

	vertical := verticalOffset(p)
	horizontal := horizontalOffset(p)
	return MovementOutput{
		VerticalOffset:   vertical,
		HorizontalOffset: horizontal,
		HorizontalLook:   horizontalLook(p, t, horizontal),
		ShouldRun:        shouldRun(p, t, previous.ShouldRun),
	}
}

// calculateStretch normalizes the collider direction and rescales it by stretch,
// so diagonal pulls never exceed unit length.
func calculateStretch(p ParameterSnapshot, t Thresholds, previous MovementOutput) MovementOutput {
	if !leashActive(p, t) {
		return MovementOutput{}
	}

	dir := mgl32.Vec2{p.RightDistance - p.LeftDistance, p.FrontDistance - p.BackDistance}.Normalize()
	// A zero-length direction normalizes to NaN.
	if math32.IsNaN(dir[0]) {
		dir[0] = 0
	}
	if math32.IsNaN(dir[1]) {
		dir[1] = 0
	}
	dir = dir.Mul(p.Stretch)

	horizontal := clamp(dir.X())
	return MovementOutput{
		VerticalOffset:   clamp(dir.Y()),
		HorizontalOffset: horizontal,
		HorizontalLook:   horizontalLook(p, t, horizontal),
		ShouldRun:        shouldRun(p, t, previous.ShouldRun),
	}
}

// calculateCombined uses Location above the cutover stretch and Stretch otherwise.
func calculateCombined(p ParameterSnapshot, t Thresholds, previous MovementOutput, cutover float32) MovementOutput {
	if p.Stretch > cutover {
		return calculateLocation(p, t, previous)
	}
	return calculateStretch(p, t, previous)
}

// leashActive reports whether the leash is grabbed and stretched past the threshold.
func leashActive(p ParameterSnapshot, t Thresholds) bool {
	return p.IsGrabbed && p.Stretch > t.StretchThreshold
}

// isZeroColliderDistance reports whether all four colliders read 0,
// which happens when the leash physbone is stuck and needs a toggle.
func isZeroColliderDistance(p ParameterSnapshot) bool {
	return p.FrontDistance == 0 && p.BackDistance == 0 && p.RightDistance == 0 && p.LeftDistance == 0
}

// verticalOffset: positive is forward, negative is backward.
func verticalOffset(p ParameterSnapshot) float32 {
	return clamp((p.FrontDistance - p.BackDistance) * p.Stretch)
}

// horizontalOffset: positive is right, negative is left.
func horizontalOffset(p ParameterSnapshot) float32 {
	return clamp((p.RightDistance - p.LeftDistance) * p.Stretch)
}

// horizontalLook computes the turning input. No turning below the turning
// threshold, or once the pull is far enough forward to reach the goal.
func horizontalLook(p ParameterSnapshot, t Thresholds, horizontal float32) float32 {
	if p.Stretch <= t.TurningThreshold || p.FrontDistance >= t.TurningGoal {
		return 0
	}

	turn := t.TurningMultiplier * horizontal
	if p.RightDistance > p.LeftDistance {
		turn += p.BackDistance
	} else {
		turn -= p.BackDistance
	}
	return clamp(turn)
}

// shouldRun applies running hysteresis: start above the upper threshold,
// keep running until stretch drops to the lower threshold.
func shouldRun(p ParameterSnapshot, t Thresholds, wasRunning bool) bool {
	run := p.Stretch > t.RunningUpperThreshold
	if !run && wasRunning && p.Stretch > t.RunningLowerThreshold {
		run = true
	}
	return run
}

// clamp limits v to [-1, 1].
func clamp(v float32) float32 {
	return math32.Max(-1, math32.Min(1, v))
}
