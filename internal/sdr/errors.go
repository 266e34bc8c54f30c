package sdr

import (
	"errors"
	"fmt"
)

// ErrDeviceNotFound reports that no SDR was reachable: nothing answered
// discovery, or the daemon that answered exposes no usable transmit device.
var ErrDeviceNotFound = errors.New("no SDR device found")

// ConfigError reports a parameter the driver or the validation layer
// rejected. Channel is -1 when the problem is not tied to one channel.
type ConfigError struct {
	Channel int
	Param   string
	Value   any
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Channel < 0 {
		return fmt.Sprintf("invalid configuration: %s=%v: %s", e.Param, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid configuration on channel %d: %s=%v: %s", e.Channel, e.Param, e.Value, e.Reason)
}

// DeviceError reports a failure talking to the hardware after configuration
// was accepted. Channel is -1 when the operation covers the whole session.
type DeviceError struct {
	Op      string
	Channel int
	Err     error
}

func (e *DeviceError) Error() string {
	if e.Channel < 0 {
		return fmt.Sprintf("device %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("device %s failed on channel %d: %v", e.Op, e.Channel, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func configErr(channel int, param string, value any, reason string) *ConfigError {
	return &ConfigError{Channel: channel, Param: param, Value: value, Reason: reason}
}

func deviceErr(op string, channel int, err error) *DeviceError {
	return &DeviceError{Op: op, Channel: channel, Err: err}
}
