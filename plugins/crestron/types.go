package crestron

import "fmt"

const (
	DefaultBrightness = 100

	cmdBrightnessGet = "BRIGHTNESS"
	cmdStandbyOn     = "STANDBY"
	cmdStandbyOff    = "STANDBY off"

	confirmBrightness = "brightness level"
	confirmStandbyOn  = "entering standby"
	confirmStandbyOff = "exit standby"
)

// PanelConfig identifies one panel and the credentials used to reach it.
type PanelConfig struct {
	Name     string
	Host     string
	Port     int
	Username string
	Password string
}

func (c PanelConfig) String() string {
	return fmt.Sprintf("%s (%s:%d)", c.Name, c.Host, c.Port)
}

// PanelState is the last known state of a panel. The device cannot report
// standby, so IsOn is tracked from the commands this process issued.
type PanelState struct {
	Brightness int  `json:"brightness"`
	IsOn       bool `json:"is_on"`
}

// DefaultState is what a panel is assumed to be before the first refresh.
func DefaultState() PanelState {
	return PanelState{Brightness: DefaultBrightness, IsOn: true}
}

// Reachability records the outcome of the most recent refresh.
type Reachability int

const (
	ReachabilityUnknown Reachability = iota
	ReachabilityReachable
	ReachabilityUnreachable
)

func (r Reachability) String() string {
	switch r {
	case ReachabilityReachable:
		return "reachable"
	case ReachabilityUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// RefreshResult always carries a complete state, even when the panel could
// not be reached.
type RefreshResult struct {
	State     PanelState
	Reachable bool
}

func brightnessCommand(level int) string {
	return fmt.Sprintf("BRIGHTNESS %d", level)
}
