// Package fanout keeps the caster's media destination list equal to the set
// of receivers currently connected on the control channel.
package fanout

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/signal"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/dchest/uniuri"
	"github.com/pkg/errors"
)

// Destinations is the part of a media pipeline the registry drives.
type Destinations interface {
	AddDestination(host string, port int) error
	RemoveDestination(host string, port int) error
}

// Entry is one active receiver.
type Entry struct {
	Token       string          `json:"token"`
	Endpoint    signal.Endpoint `json:"endpoint"`
	MediaPort   int             `json:"media_port"`
	ConnectedAt time.Time       `json:"connected_at"`
}

// ChangeKind tags a Change.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
)

func (k ChangeKind) String() string {
	if k == Added {
		return "added"
	}
	return "removed"
}

// Change describes one effective registry mutation.
type Change struct {
	Kind  ChangeKind
	Entry Entry
}

// Options configure a Registry.
type Options struct {
	// MediaPort is the fixed port media is sent to on every receiver host.
	MediaPort int
	// OnChange observes every effective mutation. It runs while the registry
	// lock is held, in mutation order, and must not block or call back into
	// the registry.
	OnChange func(Change)
}

// Registry maps receiver endpoints to active destinations. All mutations are
// serialized by one mutex, so the pipeline never sees interleaved partial
// updates from two connection goroutines.
type Registry struct {
	sink   Destinations
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	entries map[signal.Endpoint]*Entry
	closed  bool
}

func New(sink Destinations, opts Options) *Registry {
	return &Registry{
		sink:    sink,
		opts:    opts,
		logger:  util.ComponentLogger("fanout"),
		entries: make(map[signal.Endpoint]*Entry),
	}
}

// Handle adapts the registry to a signal.Handler.
func (r *Registry) Handle(ev signal.Event) {
	switch ev.Kind {
	case signal.Connected:
		r.OnConnect(ev.Endpoint)
	case signal.Disconnected:
		r.OnDisconnect(ev.Endpoint)
	}
}

// OnConnect registers endpoint and adds its destination. A duplicate connect
// is logged and ignored. When the pipeline refuses the destination the
// endpoint is not registered, keeping the registry equal to what the pipeline
// actually sends to.
func (r *Registry) OnConnect(endpoint signal.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Debug("Ignoring connect after close", "endpoint", endpoint.String())
		return
	}
	if _, ok := r.entries[endpoint]; ok {
		r.logger.Warn("Unexpected duplicate connect", "endpoint", endpoint.String())
		return
	}

	if err := r.sink.AddDestination(endpoint.Host, r.opts.MediaPort); err != nil {
		r.logger.Error("Failed to add destination", "endpoint", endpoint.String(),
			"error", errors.Wrapf(err, "add destination %s:%d", endpoint.Host, r.opts.MediaPort))
		return
	}

	entry := &Entry{
		Token:       uniuri.NewLen(16),
		Endpoint:    endpoint,
		MediaPort:   r.opts.MediaPort,
		ConnectedAt: time.Now(),
	}
	r.entries[endpoint] = entry
	r.logger.Info("Receiver added", "endpoint", endpoint.String(), "receivers", len(r.entries))
	r.notify(Added, entry)
}

// OnDisconnect removes endpoint and its destination. Unknown endpoints are
// ignored.
func (r *Registry) OnDisconnect(endpoint signal.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[endpoint]
	if !ok {
		r.logger.Debug("Ignoring disconnect for unknown endpoint", "endpoint", endpoint.String())
		return
	}
	r.remove(entry)
}

func (r *Registry) remove(entry *Entry) {
	delete(r.entries, entry.Endpoint)
	if err := r.sink.RemoveDestination(entry.Endpoint.Host, entry.MediaPort); err != nil {
		r.logger.Warn("Failed to remove destination", "endpoint", entry.Endpoint.String(), "error", err)
	}
	r.logger.Info("Receiver removed", "endpoint", entry.Endpoint.String(), "receivers", len(r.entries))
	r.notify(Removed, entry)
}

func (r *Registry) notify(kind ChangeKind, entry *Entry) {
	if r.opts.OnChange != nil {
		r.opts.OnChange(Change{Kind: kind, Entry: *entry})
	}
}

// Contains reports whether endpoint is active.
func (r *Registry) Contains(endpoint signal.Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[endpoint]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Entries returns the active entries ordered by connect time.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].Endpoint.String() < out[j].Endpoint.String()
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Close removes any remaining destinations and rejects later connects.
// Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for _, entry := range r.entries {
		r.remove(entry)
	}
}
