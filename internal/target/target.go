// Package target defines remote execution targets: their identity, their
// authentication material, and the optional named inventory they load from.
//
// A target's canonical key (user@host:port) is the unit of isolation for
// both the connection pool and the circuit breakers.
package target

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultPort is the SSH port assumed when none is given
const DefaultPort = 22

// Target identifies one remote host endpoint
type Target struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	User string `json:"user" yaml:"user"`
}

// Key returns the canonical identity string: user@host:port.
// Pool entries and circuit breakers are keyed by this.
func (t Target) Key() string {
	return fmt.Sprintf("%s@%s", t.User, t.Addr())
}

// Addr returns the dialable host:port address
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Normalize fills missing fields from the given defaults
func (t Target) Normalize(defaultUser string, defaultPort int) Target {
	if t.Port == 0 {
		t.Port = defaultPort
	}
	if t.Port == 0 {
		t.Port = DefaultPort
	}
	if t.User == "" {
		t.User = defaultUser
	}
	return t
}

// Validate rejects targets that cannot be dialed
func (t Target) Validate() error {
	if t.Host == "" {
		return fmt.Errorf("target host is required")
	}
	if t.User == "" {
		return fmt.Errorf("target user is required")
	}
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("target port out of range: %d", t.Port)
	}
	return nil
}
