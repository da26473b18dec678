// Package signal implements the control channel between a caster and its
// receivers. The channel carries no application payload: a receiver is
// present exactly while its connection is open.
package signal

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Path is the HTTP path the control endpoint upgrades on.
const Path = "/signal"

// Endpoint identifies one receiver connection by its remote address.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint parses a host:port remote address.
func ParseEndpoint(addr string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "invalid endpoint %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "invalid endpoint port %q", addr)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// EventKind tags an Event.
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
)

func (k EventKind) String() string {
	if k == Connected {
		return "connected"
	}
	return "disconnected"
}

// Event is a connection lifecycle notification. For a given endpoint the
// Connected event is always delivered before its Disconnected event.
type Event struct {
	Kind     EventKind
	Endpoint Endpoint
}

// Handler consumes events. The server calls it from the goroutine that owns
// the connection, so a handler shared between connections must serialize
// itself.
type Handler func(Event)
