package transmission

import (
	"context"
	"fmt"
	"testing"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/fanout"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id       string
	role     media.Role
	startErr error
	started  bool
	stopped  int
}

func (s *fakeSession) ID() string       { return s.id }
func (s *fakeSession) Role() media.Role { return s.role }
func (s *fakeSession) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}
func (s *fakeSession) Stop() error {
	s.stopped++
	return nil
}

type fakeCaster struct {
	fakeSession
	region   media.Region
	pauseErr error
	blankErr error
	calls    []string
}

func (c *fakeCaster) Pause() error {
	c.calls = append(c.calls, "pause")
	return c.pauseErr
}
func (c *fakeCaster) Resume() error {
	c.calls = append(c.calls, "resume")
	return c.pauseErr
}
func (c *fakeCaster) Blank() error {
	c.calls = append(c.calls, "blank")
	return c.blankErr
}
func (c *fakeCaster) Restore() error {
	c.calls = append(c.calls, "restore")
	return c.blankErr
}
func (c *fakeCaster) SetRegion(r media.Region) error {
	c.calls = append(c.calls, "region "+r.String())
	c.region = r
	return nil
}
func (c *fakeCaster) Receivers() []fanout.Entry { return nil }

type fakeReceiver struct {
	fakeSession
	host      string
	connected bool
}

func (r *fakeReceiver) IsConnected() bool { return r.connected }

type fakeFactory struct {
	n         int
	casters   []*fakeCaster
	receivers []*fakeReceiver
	startErr  error
}

func (f *fakeFactory) NewCaster(region media.Region) Caster {
	f.n++
	c := &fakeCaster{fakeSession: fakeSession{id: fmt.Sprintf("s%d", f.n), role: media.RoleCaster, startErr: f.startErr}, region: region}
	f.casters = append(f.casters, c)
	return c
}

func (f *fakeFactory) NewReceiver(host string) Receiver {
	f.n++
	r := &fakeReceiver{fakeSession: fakeSession{id: fmt.Sprintf("s%d", f.n), role: media.RoleReceiver, startErr: f.startErr}, host: host, connected: true}
	f.receivers = append(f.receivers, r)
	return r
}

func newMachine() (*Machine, *fakeFactory, *[]Notification) {
	f := &fakeFactory{}
	var notes []Notification
	m := NewMachine(f, func(n Notification) { notes = append(notes, n) })
	return m, f, &notes
}

var ctx = context.Background()

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"192.168.1.10", true},
		{" 10.0.0.1 ", false},
		{"10.0.0.1\n", false},
		{"0.0.0.0", true},
		{"300.1.1.1", false},
		{"1.2.3", false},
		{"", false},
		{"::1", false},
		{"::ffff:10.0.0.1", false},
		{"caster.local", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateAddress(tt.input)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errdefs.IsValidation(err))
			}
		})
	}
}

func TestInvalidAddressLeavesIdle(t *testing.T) {
	m, f, notes := newMachine()

	err := m.StartReceive(ctx, "300.1.1.1")
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
	assert.Equal(t, Idle, m.State().Mode)
	assert.Empty(t, f.receivers, "no session may be built for an invalid address")
	assert.Empty(t, *notes)
}

func TestPaddedAddressRejected(t *testing.T) {
	m, f, _ := newMachine()

	err := m.StartReceive(ctx, " 10.0.0.1 ")
	assert.True(t, errdefs.IsValidation(err))
	assert.Equal(t, Idle, m.State().Mode)
	assert.Empty(t, f.receivers)
	assert.Empty(t, m.Address())
}

func TestCastLifecycle(t *testing.T) {
	m, f, notes := newMachine()

	require.NoError(t, m.StartCast(ctx))
	assert.Equal(t, State{Mode: Casting}, m.State())
	c := f.casters[0]
	assert.True(t, c.started)
	assert.Equal(t, c.ID(), m.SessionID())

	require.NoError(t, m.Pause())
	assert.Equal(t, State{Mode: Casting, Paused: true}, m.State())
	require.NoError(t, m.Pause())

	require.NoError(t, m.ToggleBlank())
	assert.Equal(t, State{Mode: Casting, Paused: true, Blanked: true}, m.State())
	assert.Equal(t, "casting (paused, blanked)", m.State().String())

	require.NoError(t, m.Resume())
	require.NoError(t, m.Resume())
	require.NoError(t, m.ToggleBlank())
	assert.Equal(t, State{Mode: Casting}, m.State())
	assert.Equal(t, []string{"pause", "pause", "blank", "resume", "resume", "restore"}, c.calls)

	require.NoError(t, m.Stop())
	assert.Equal(t, Idle, m.State().Mode)
	assert.Equal(t, 1, c.stopped)
	assert.Equal(t, "", m.SessionID())

	last := (*notes)[len(*notes)-1]
	assert.Equal(t, StateChanged, last.Kind)
	assert.False(t, last.Involuntary)
}

func TestStartFailureStaysIdle(t *testing.T) {
	m, f, notes := newMachine()
	f.startErr = errdefs.Pipeline("build", errors.New("no x264enc"))

	err := m.StartCast(ctx)
	require.Error(t, err)
	assert.True(t, errdefs.IsPipeline(err))
	assert.Equal(t, Idle, m.State().Mode)

	err = m.StartReceive(ctx, "10.0.0.1")
	require.Error(t, err)
	assert.Equal(t, Idle, m.State().Mode)
	assert.Empty(t, *notes)

	f.startErr = nil
	require.NoError(t, m.StartCast(ctx))
}

func TestPendingRegionAppliedOnCast(t *testing.T) {
	m, f, _ := newMachine()
	region := media.Region{X0: 0, Y0: 0, X1: 1280, Y1: 720}

	require.NoError(t, m.SetRegion(region))
	require.NoError(t, m.StartCast(ctx))
	assert.Equal(t, region, f.casters[0].region)

	next := media.Region{X0: 100, Y0: 100, X1: 200, Y1: 200}
	require.NoError(t, m.SetRegion(next))
	assert.Equal(t, []string{"region 100,100,200,200"}, f.casters[0].calls)
	assert.Equal(t, next, m.Region())

	err := m.SetRegion(media.Region{X0: 5, X1: 5, Y1: 5})
	assert.True(t, errdefs.IsValidation(err))
	assert.Equal(t, Casting, m.State().Mode)
}

func TestFatalErrorCollapse(t *testing.T) {
	type setup func(m *Machine, f *fakeFactory)

	castWith := func(pauseErr, blankErr error, paused, blanked bool) setup {
		return func(m *Machine, f *fakeFactory) {
			require.NoError(t, m.StartCast(ctx))
			if paused {
				require.NoError(t, m.Pause())
			}
			if blanked {
				require.NoError(t, m.ToggleBlank())
			}
			f.casters[len(f.casters)-1].pauseErr = pauseErr
			f.casters[len(f.casters)-1].blankErr = blankErr
		}
	}
	boom := errdefs.Pipeline("set state", errors.New("refused"))

	tests := []struct {
		name   string
		setup  setup
		inject func(m *Machine) error
	}{
		{"pause fails", castWith(boom, nil, false, false), func(m *Machine) error { return m.Pause() }},
		{"resume fails", castWith(boom, nil, true, false), func(m *Machine) error { return m.Resume() }},
		{"blank fails", castWith(nil, boom, false, false), func(m *Machine) error { return m.ToggleBlank() }},
		{"restore fails while paused", castWith(nil, boom, true, true), func(m *Machine) error { return m.ToggleBlank() }},
		{"async fault while casting", castWith(nil, nil, false, true), func(m *Machine) error {
			m.Fault(m.SessionID(), boom)
			return boom
		}},
		{"async fault while receiving", func(m *Machine, f *fakeFactory) {
			require.NoError(t, m.StartReceive(ctx, "10.0.0.1"))
		}, func(m *Machine) error {
			m.Fault(m.SessionID(), boom)
			return boom
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, f, notes := newMachine()
			tt.setup(m, f)
			id := m.SessionID()
			require.NotEmpty(t, id)

			err := tt.inject(m)
			require.Error(t, err)
			assert.Equal(t, State{Mode: Idle}, m.State())
			assert.Equal(t, "", m.SessionID())

			var sawError bool
			for _, n := range *notes {
				if n.Kind == Error {
					sawError = true
					assert.True(t, errdefs.IsFatal(n.Err))
				}
			}
			assert.True(t, sawError)

			// A fresh start succeeds cleanly.
			f.startErr = nil
			require.NoError(t, m.StartCast(ctx))
			assert.Equal(t, State{Mode: Casting}, m.State())
		})
	}
}

func TestStaleFaultIgnored(t *testing.T) {
	m, _, _ := newMachine()

	require.NoError(t, m.StartCast(ctx))
	old := m.SessionID()
	require.NoError(t, m.Stop())
	require.NoError(t, m.StartCast(ctx))

	assert.False(t, m.Fault(old, errors.New("late")))
	assert.False(t, m.Disconnected(old))
	assert.Equal(t, Casting, m.State().Mode)
}

func TestConnectivityLoss(t *testing.T) {
	m, f, notes := newMachine()

	require.NoError(t, m.StartReceive(ctx, "192.168.1.20"))
	assert.Equal(t, "192.168.1.20", m.Address())
	assert.False(t, m.CheckConnectivity())

	f.receivers[0].connected = false
	assert.True(t, m.CheckConnectivity())
	assert.Equal(t, Idle, m.State().Mode)
	assert.Equal(t, "", m.Address())
	assert.Equal(t, 1, f.receivers[0].stopped)

	var kinds []NotificationKind
	for _, n := range *notes {
		kinds = append(kinds, n.Kind)
	}
	assert.Equal(t, []NotificationKind{StateChanged, ConnectivityLost, StateChanged}, kinds)
	assert.True(t, (*notes)[2].Involuntary)

	require.NoError(t, m.StartReceive(ctx, "192.168.1.20"))
	assert.True(t, m.Disconnected(f.receivers[1].ID()))
	assert.Equal(t, Idle, m.State().Mode)
}

// Every (state, intent) pair either succeeds, is a no-op, or is rejected.
func TestTotality(t *testing.T) {
	states := map[string]func(m *Machine){
		"idle":            func(m *Machine) {},
		"casting":         func(m *Machine) { require.NoError(t, m.StartCast(ctx)) },
		"casting paused":  func(m *Machine) { require.NoError(t, m.StartCast(ctx)); require.NoError(t, m.Pause()) },
		"casting blanked": func(m *Machine) { require.NoError(t, m.StartCast(ctx)); require.NoError(t, m.ToggleBlank()) },
		"receiving":       func(m *Machine) { require.NoError(t, m.StartReceive(ctx, "10.0.0.1")) },
	}
	apply := map[Intent]func(m *Machine) error{
		IntentStartCast:    func(m *Machine) error { return m.StartCast(ctx) },
		IntentStartReceive: func(m *Machine) error { return m.StartReceive(ctx, "10.0.0.2") },
		IntentPause:        func(m *Machine) error { return m.Pause() },
		IntentResume:       func(m *Machine) error { return m.Resume() },
		IntentToggleBlank:  func(m *Machine) error { return m.ToggleBlank() },
		IntentSetRegion:    func(m *Machine) error { return m.SetRegion(media.FullScreen) },
		IntentStop:         func(m *Machine) error { return m.Stop() },
	}
	require.Len(t, apply, len(Intents))

	for name, enter := range states {
		for _, intent := range Intents {
			t.Run(name+"/"+string(intent), func(t *testing.T) {
				m, _, _ := newMachine()
				enter(m)
				before := m.State()

				var err error
				assert.NotPanics(t, func() { err = apply[intent](m) })
				if err != nil {
					assert.True(t, errdefs.IsTransition(err), "unexpected error %v", err)
					assert.Equal(t, before, m.State())
				}
			})
		}
	}
}
