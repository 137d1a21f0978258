package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotProvisioned = errors.New("instance is not provisioned")
	ErrStopped        = errors.New("instance was stopped by the operator")
)

// ConfigurationError reports missing or invalid descriptor values.
type ConfigurationError struct {
	Fields []string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if len(e.Fields) == 0 {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", strings.Join(e.Fields, ", "), e.Reason)
}

// PortConflictError reports that the mapped host port is already bound.
type PortConflictError struct {
	HostIP string
	Port   int
	Err    error
}

func (e *PortConflictError) Error() string {
	host := e.HostIP
	if host == "" {
		host = "0.0.0.0"
	}
	if e.Err != nil {
		return fmt.Sprintf("host port %s:%d is already bound: %v", host, e.Port, e.Err)
	}
	return fmt.Sprintf("host port %s:%d is already bound", host, e.Port)
}

func (e *PortConflictError) Unwrap() error { return e.Err }

// ProbeTimeoutError is returned by a single readiness attempt that ran past
// its timeout.
type ProbeTimeoutError struct {
	Timeout time.Duration
}

func (e *ProbeTimeoutError) Error() string {
	return fmt.Sprintf("readiness probe timed out after %s", e.Timeout)
}

// InstanceUnreadyError is returned once consecutive probe failures reach the
// configured retry count.
type InstanceUnreadyError struct {
	Retries int
	Last    error
}

func (e *InstanceUnreadyError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("instance unready after %d consecutive failed probes", e.Retries)
	}
	return fmt.Sprintf("instance unready after %d consecutive failed probes: %v", e.Retries, e.Last)
}

func (e *InstanceUnreadyError) Unwrap() error { return e.Last }

func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsPortConflict(err error) bool {
	var target *PortConflictError
	return errors.As(err, &target)
}
