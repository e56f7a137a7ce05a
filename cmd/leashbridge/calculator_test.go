package main

import (
	"math"
	"testing"
)

func approxEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func assertMovement(t *testing.T, got, want MovementOutput) {
	t.Helper()
	if !approxEqual(got.VerticalOffset, want.VerticalOffset) ||
		!approxEqual(got.HorizontalOffset, want.HorizontalOffset) ||
		!approxEqual(got.HorizontalLook, want.HorizontalLook) ||
		got.ShouldRun != want.ShouldRun {
		t.Fatalf("movement=%+v, want %+v", got, want)
	}
}

func exampleThresholds() Thresholds {
	t := DefaultThresholds()
	t.StretchThreshold = 0.3
	t.TurningThreshold = 0.2
	t.TurningGoal = 0.9
	t.TurningMultiplier = 1.5
	t.RunningUpperThreshold = 0.9
	t.RunningLowerThreshold = 0.75
	return t
}

func TestCalculate_LocationExample(t *testing.T) {
	p := ParameterSnapshot{
		IsGrabbed:     true,
		Stretch:       0.5,
		FrontDistance: 0.8,
		BackDistance:  0.2,
		RightDistance: 0.1,
		LeftDistance:  0.1,
	}

	got := Calculate(CalculatorLocation, p, exampleThresholds(), MovementOutput{}, defaultCombinedCutover)
	assertMovement(t, got, MovementOutput{
		VerticalOffset:   0.3,
		HorizontalOffset: 0,
		HorizontalLook:   -0.2,
		ShouldRun:        false,
	})
}

func TestCalculate_InactiveReturnsZero(t *testing.T) {
	th := DefaultThresholds()
	inputs := []ParameterSnapshot{
		// not grabbed
		{IsGrabbed: false, Stretch: 1, FrontDistance: 1, RightDistance: 0.5},
		// stretch exactly at threshold
		{IsGrabbed: true, Stretch: th.StretchThreshold, FrontDistance: 1, BackDistance: 0.3},
		// stretch below threshold
		{IsGrabbed: true, Stretch: 0.1, LeftDistance: 1},
	}

	for _, kind := range []CalculatorType{CalculatorLocation, CalculatorStretch, CalculatorCombined} {
		for i, p := range inputs {
			prev := MovementOutput{VerticalOffset: 1, ShouldRun: true}
			if got := Calculate(kind, p, th, prev, defaultCombinedCutover); got != (MovementOutput{}) {
				t.Fatalf("%s input %d: got %+v, want zero movement", kind, i, got)
			}
		}
	}
}

func TestCalculate_LocationClampsOutputs(t *testing.T) {
	th := DefaultThresholds()
	values := []float32{-100, -2.5, -1, -0.3, 0, 0.4, 1, 3, 1e6}

	for _, stretch := range []float32{0.31, 1, 5, 1000} {
		for _, a := range values {
			for _, b := range values {
				p := ParameterSnapshot{
					IsGrabbed:     true,
					Stretch:       stretch,
					FrontDistance: a,
					BackDistance:  b,
					RightDistance: b,
					LeftDistance:  a,
				}
				got := Calculate(CalculatorLocation, p, th, MovementOutput{}, defaultCombinedCutover)
				for _, v := range []float32{got.VerticalOffset, got.HorizontalOffset, got.HorizontalLook} {
					if v < -1 || v > 1 {
						t.Fatalf("output out of range for %+v: %+v", p, got)
					}
				}
			}
		}
	}
}

func TestCalculate_StretchZeroDirectionIsNotNaN(t *testing.T) {
	p := ParameterSnapshot{IsGrabbed: true, Stretch: 0.5}

	got := Calculate(CalculatorStretch, p, DefaultThresholds(), MovementOutput{}, defaultCombinedCutover)
	for _, v := range []float32{got.VerticalOffset, got.HorizontalOffset, got.HorizontalLook} {
		if math.IsNaN(float64(v)) {
			t.Fatalf("NaN in output: %+v", got)
		}
	}
	if got != (MovementOutput{}) {
		t.Fatalf("got %+v, want zero movement", got)
	}
}

func TestCalculate_StretchNormalizesDiagonal(t *testing.T) {
	p := ParameterSnapshot{
		IsGrabbed:     true,
		Stretch:       0.8,
		FrontDistance: 1,
		RightDistance: 1,
	}
	th := DefaultThresholds()

	got := Calculate(CalculatorStretch, p, th, MovementOutput{}, defaultCombinedCutover)
	want := float32(0.8 / math.Sqrt2)
	if !approxEqual(got.VerticalOffset, want) || !approxEqual(got.HorizontalOffset, want) {
		t.Fatalf("stretch offsets=(%v,%v), want (%v,%v)", got.VerticalOffset, got.HorizontalOffset, want, want)
	}

	// Location uses the raw distances and would exceed the pull magnitude.
	loc := Calculate(CalculatorLocation, p, th, MovementOutput{}, defaultCombinedCutover)
	if !approxEqual(loc.VerticalOffset, 0.8) || !approxEqual(loc.HorizontalOffset, 0.8) {
		t.Fatalf("location offsets=(%v,%v), want (0.8,0.8)", loc.VerticalOffset, loc.HorizontalOffset)
	}
}

func TestCalculate_StretchSpeedFollowsStretch(t *testing.T) {
	// Small collider distance, large stretch: Stretch reaches full forward speed.
	p := ParameterSnapshot{IsGrabbed: true, Stretch: 1, FrontDistance: 0.2}

	got := Calculate(CalculatorStretch, p, DefaultThresholds(), MovementOutput{}, defaultCombinedCutover)
	if !approxEqual(got.VerticalOffset, 1) || !approxEqual(got.HorizontalOffset, 0) {
		t.Fatalf("got %+v, want vertical 1", got)
	}
}

func TestCalculate_CombinedCutover(t *testing.T) {
	th := DefaultThresholds()
	base := ParameterSnapshot{
		IsGrabbed:     true,
		FrontDistance: 0.4,
		BackDistance:  0.1,
		RightDistance: 0.3,
	}

	for _, tc := range []struct {
		stretch float32
		want    CalculatorType
	}{
		{0.95, CalculatorLocation},
		{0.91, CalculatorLocation},
		{0.90, CalculatorStretch},
		{0.5, CalculatorStretch},
	} {
		p := base
		p.Stretch = tc.stretch
		got := Calculate(CalculatorCombined, p, th, MovementOutput{}, 0.90)
		want := Calculate(tc.want, p, th, MovementOutput{}, 0.90)
		if got != want {
			t.Fatalf("stretch %v: combined=%+v, want %s output %+v", tc.stretch, got, tc.want, want)
		}
	}
}

func TestCalculate_UnknownKindFallsBackToLocation(t *testing.T) {
	p := ParameterSnapshot{IsGrabbed: true, Stretch: 0.6, FrontDistance: 0.5, LeftDistance: 0.2}
	th := DefaultThresholds()

	got := Calculate(CalculatorType(42), p, th, MovementOutput{}, defaultCombinedCutover)
	want := Calculate(CalculatorLocation, p, th, MovementOutput{}, defaultCombinedCutover)
	if got != want {
		t.Fatalf("got %+v, want location %+v", got, want)
	}
}

func TestShouldRun_Hysteresis(t *testing.T) {
	th := exampleThresholds()

	for _, tc := range []struct {
		stretch    float32
		wasRunning bool
		want       bool
	}{
		{0.95, false, true},
		{0.95, true, true},
		{0.90, false, false}, // upper is exclusive for entering
		{0.90, true, true},
		{0.80, true, true},
		{0.80, false, false},
		{0.75, true, false}, // lower is where running stops
		{0.50, true, false},
	} {
		p := ParameterSnapshot{IsGrabbed: true, Stretch: tc.stretch}
		if got := shouldRun(p, th, tc.wasRunning); got != tc.want {
			t.Fatalf("shouldRun(stretch=%v, wasRunning=%v)=%v, want %v", tc.stretch, tc.wasRunning, got, tc.want)
		}
	}
}

func TestHorizontalLook_Guards(t *testing.T) {
	th := exampleThresholds()

	// Stretch at turning threshold: no turn.
	p := ParameterSnapshot{Stretch: th.TurningThreshold, BackDistance: 0.5, RightDistance: 1}
	if got := horizontalLook(p, th, 0.5); got != 0 {
		t.Fatalf("look at turning threshold=%v, want 0", got)
	}

	// Front at goal: no turn.
	p = ParameterSnapshot{Stretch: 0.6, FrontDistance: th.TurningGoal, BackDistance: 0.5, RightDistance: 1}
	if got := horizontalLook(p, th, 0.5); got != 0 {
		t.Fatalf("look at turning goal=%v, want 0", got)
	}

	// Pulled right and back: back distance adds to the turn.
	p = ParameterSnapshot{Stretch: 0.6, BackDistance: 0.3, RightDistance: 0.4}
	if got := horizontalLook(p, th, 0.2); !approxEqual(got, 1.5*0.2+0.3) {
		t.Fatalf("look right=%v, want %v", got, 1.5*0.2+0.3)
	}

	// Pulled left and back: back distance subtracts.
	p = ParameterSnapshot{Stretch: 0.6, BackDistance: 0.3, LeftDistance: 0.4}
	if got := horizontalLook(p, th, -0.2); !approxEqual(got, -1.5*0.2-0.3) {
		t.Fatalf("look left=%v, want %v", got, -1.5*0.2-0.3)
	}
}

func TestParseCalculatorType(t *testing.T) {
	for in, want := range map[string]CalculatorType{
		"location":         CalculatorLocation,
		"Position":         CalculatorLocation,
		"stretch":          CalculatorStretch,
		" combined ":       CalculatorCombined,
		"stretch_position": CalculatorCombined,
	} {
		got, err := ParseCalculatorType(in)
		if err != nil {
			t.Fatalf("ParseCalculatorType(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseCalculatorType(%q)=%s, want %s", in, got, want)
		}
	}

	got, err := ParseCalculatorType("teleport")
	if err == nil {
		t.Fatalf("expected error for unknown calculator")
	}
	if got != CalculatorLocation {
		t.Fatalf("unknown calculator=%s, want location fallback", got)
	}
}
