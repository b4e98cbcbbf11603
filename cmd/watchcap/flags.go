package main

import "time"

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds flags for the run command. The pipeline can be given either
// as a config file or directly via the device/command flags.
type RunFlags struct {
	ConfigPath      string
	Device          string
	ProducerCommand string
	ConsumerCommand string
}

// APIFlags holds daemon connection flags shared by remote commands
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// StatusFlags holds flags for the status command
type StatusFlags struct {
	APIFlags
}

// ResetFlags holds flags for the reset command
type ResetFlags struct {
	APIFlags
}

// StopFlags holds flags for the stop command
type StopFlags struct {
	APIFlags
}

// EventsFlags holds flags for the events command
type EventsFlags struct {
	APIFlags
	Limit int
}

// CheckFlags holds flags for the check command
type CheckFlags struct {
	DevicePath   string
	ProbeCommand string
	ProbeTimeout time.Duration
}
