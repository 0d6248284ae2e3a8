package models

import "time"

// WOLConfig holds Wake-on-LAN settings for the share host.
type WOLConfig struct {
	MACAddress  string
	BroadcastIP string
	// ReadyAddr is dialed until the share host accepts connections.
	// Derived from share.server and the SMB port unless overridden.
	ReadyAddr string
	// PollURL switches readiness to an HTTP check (any answer counts).
	PollURL       string
	Timeout       time.Duration // max time to wait for the share host
	PollInterval  time.Duration
	StabilizeWait time.Duration // wait after the share host responds, before mounting
}

// WOLResult holds the result of waking the share host.
type WOLResult struct {
	PacketSent   bool
	HostReady    bool
	Target       string // address or URL checked; empty when no check ran
	Attempts     int
	WaitDuration time.Duration
	Error        error
}
