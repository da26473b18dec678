// Package mediatest provides a recording media engine for tests.
package mediatest

import (
	"fmt"
	"sync"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/pkg/errors"
)

// Command is one call made on a fake pipeline.
type Command struct {
	Op    string
	Host  string
	Port  int
	State media.State
	Value string
}

func (c Command) String() string {
	switch c.Op {
	case "add", "remove":
		return fmt.Sprintf("%s %s:%d", c.Op, c.Host, c.Port)
	case "state":
		return "state " + c.State.String()
	default:
		if c.Value == "" {
			return c.Op
		}
		return c.Op + " " + c.Value
	}
}

// Engine is a media.Engine whose pipelines record every command.
type Engine struct {
	mu        sync.Mutex
	pipelines []*Pipeline

	// BuildErr, when set, fails every Build.
	BuildErr error
	// FailStates makes SetState fail for the listed target states.
	FailStates map[media.State]bool
}

func NewEngine() *Engine {
	return &Engine{FailStates: map[media.State]bool{}}
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) Build(role media.Role, opts media.BuildOptions) (media.Pipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.BuildErr != nil {
		return nil, errdefs.Pipeline("build", e.BuildErr)
	}
	p := &Pipeline{engine: e, Role: role, Opts: opts, region: opts.Region}
	e.pipelines = append(e.pipelines, p)
	return p, nil
}

// FailState makes future SetState(state) calls fail.
func (e *Engine) FailState(state media.State, fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.FailStates[state] = fail
}

// Pipelines returns every pipeline built so far.
func (e *Engine) Pipelines() []*Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Pipeline(nil), e.pipelines...)
}

// Last returns the most recently built pipeline, or nil.
func (e *Engine) Last() *Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pipelines) == 0 {
		return nil
	}
	return e.pipelines[len(e.pipelines)-1]
}

func (e *Engine) shouldFail(state media.State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.FailStates[state]
}

// Pipeline records commands and tracks the destination set.
type Pipeline struct {
	engine *Engine
	Role   media.Role
	Opts   media.BuildOptions

	mu           sync.Mutex
	commands     []Command
	state        media.State
	region       media.Region
	blank        bool
	closed       bool
	destinations map[string]int
}

func (p *Pipeline) record(c Command) {
	p.commands = append(p.commands, c)
}

func (p *Pipeline) SetState(state media.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.engine.shouldFail(state) {
		return errdefs.Pipeline("set state "+state.String(), errors.New("state change refused"))
	}
	p.record(Command{Op: "state", State: state})
	p.state = state
	return nil
}

func (p *Pipeline) AddDestination(host string, port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destinations == nil {
		p.destinations = map[string]int{}
	}
	key := fmt.Sprintf("%s:%d", host, port)
	p.destinations[key]++
	p.record(Command{Op: "add", Host: host, Port: port})
	return nil
}

func (p *Pipeline) RemoveDestination(host string, port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := fmt.Sprintf("%s:%d", host, port)
	if p.destinations[key] > 0 {
		p.destinations[key]--
		if p.destinations[key] == 0 {
			delete(p.destinations, key)
		}
	}
	p.record(Command{Op: "remove", Host: host, Port: port})
	return nil
}

func (p *Pipeline) SetRegion(region media.Region) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.region = region
	p.record(Command{Op: "region", Value: region.String()})
	return nil
}

func (p *Pipeline) SetBlank(blank bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.blank = blank
	p.record(Command{Op: "blank", Value: fmt.Sprint(blank)})
	return nil
}

func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.state = media.StateNull
	p.record(Command{Op: "close"})
	return nil
}

// Commands returns a copy of the recorded commands.
func (p *Pipeline) Commands() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Command(nil), p.commands...)
}

// CommandsOf returns recorded commands with the given op, formatted.
func (p *Pipeline) CommandsOf(op string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for _, c := range p.commands {
		if c.Op == op {
			out = append(out, c.String())
		}
	}
	return out
}

// Destinations returns the live destination set with reference counts.
func (p *Pipeline) Destinations() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]int, len(p.destinations))
	for k, v := range p.destinations {
		out[k] = v
	}
	return out
}

func (p *Pipeline) State() media.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Region() media.Region {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.region
}

func (p *Pipeline) Blank() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blank
}

func (p *Pipeline) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// EmitFrame invokes the pipeline's frame callback, if any.
func (p *Pipeline) EmitFrame(data []byte) {
	if p.Opts.OnFrame != nil {
		p.Opts.OnFrame(data)
	}
}

// Fault invokes the pipeline's fault callback, if any.
func (p *Pipeline) Fault(err error) {
	if p.Opts.OnFault != nil {
		p.Opts.OnFault(errdefs.Pipeline("bus", err))
	}
}
