package main

import "time"

// Avatar parameter names published by the leash prefab.
const (
	paramEnabled   = "Leash_Enabled"
	paramIsGrabbed = "Leash_IsGrabbed"
	paramAngle     = "Leash_Angle"
	paramStretch   = "Leash_Stretch"
	paramFront     = "Leash_Front"
	paramBack      = "Leash_Back"
	paramRight     = "Leash_Right"
	paramLeft      = "Leash_Left"

	paramTimerHour   = "timer_hour"
	paramTimerMinute = "timer_minute"
	paramTimerSecond = "timer_second"
)

// OSC addresses used by VRChat.
const (
	oscAvatarParameterPrefix = "/avatar/parameters/"
	oscAvatarChange          = "/avatar/change"

	oscInputVertical       = "/input/Vertical"
	oscInputHorizontal     = "/input/Horizontal"
	oscInputLookHorizontal = "/input/LookHorizontal"
	oscInputRun            = "/input/Run"
)

// Loop configuration defaults
const (
	defaultTickInterval     = 50 * time.Millisecond // Leash polling period
	defaultCounterInterval  = 1 * time.Second       // Counter polling period
	defaultResetDelay       = 2 * time.Second       // Delay between Leash_Enabled toggles
	defaultMaxResetAttempts = 3                     // Toggle attempts before giving up
	defaultCombinedCutover  = 0.90                  // Combined calculator switches to Location above this stretch

	// Pause between disabling thresholds and sending the zero movement on emergency stop.
	emergencyStopSettle = 50 * time.Millisecond
)

// Threshold defaults
const (
	defaultStretchThreshold      = 0.30
	defaultRunningUpperThreshold = 0.90
	defaultRunningLowerThreshold = 0.75
	defaultTurningThreshold      = 0.35
	defaultTurningGoal           = 0.90
	defaultTurningMultiplier     = 1.50
	defaultCounterThreshold      = 0.20
)

// Network defaults (VRChat listens on 9000 and sends on 9001)
const (
	defaultOSCListenAddr = "127.0.0.1:9001"
	defaultOSCSendAddr   = "127.0.0.1:9000"
	defaultIPCSocketPath = "/tmp/leashbridge.sock"
	defaultHTTPAddr      = "127.0.0.1:3001"
)
