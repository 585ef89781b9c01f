package outlet

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver records commands and replays canned state.
type fakeDriver struct {
	mu       sync.Mutex
	on       bool
	queryErr error
	setErr   error
	commands []bool
}

func (f *fakeDriver) State(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on, f.queryErr
}

func (f *fakeDriver) SetState(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.commands = append(f.commands, on)
	f.on = on
	return nil
}

func newFakeService(d *fakeDriver) *Service {
	return NewServiceWithFactory(func(c Config) (Driver, error) {
		if c == nil || c.Type() == TypeNone {
			return nil, ErrNotConfigured
		}
		return d, nil
	}, 10*time.Millisecond)
}

func apBinding(controllable bool) Binding {
	cfg, _ := NewAP7900("10.0.0.2", 1)
	return Binding{Enabled: true, Controllable: controllable, Outlet: cfg}
}

func TestQueryPowerState(t *testing.T) {
	d := &fakeDriver{on: true}
	svc := newFakeService(d)
	ctx := context.Background()

	assert.Equal(t, PowerDisabled, svc.QueryPowerState(ctx, Binding{Enabled: true, Outlet: None{}}))

	b := apBinding(false)
	b.Enabled = false
	assert.Equal(t, PowerDisabled, svc.QueryPowerState(ctx, b))

	assert.Equal(t, PowerOn, svc.QueryPowerState(ctx, apBinding(false)))

	d.on = false
	assert.Equal(t, PowerOff, svc.QueryPowerState(ctx, apBinding(false)))

	d.queryErr = errors.New("timeout")
	assert.Equal(t, PowerUnknown, svc.QueryPowerState(ctx, apBinding(false)))
}

func TestSetPower_ControllableGate(t *testing.T) {
	d := &fakeDriver{}
	svc := newFakeService(d)
	ctx := context.Background()

	state, err := svc.SetPower(ctx, apBinding(false), true, false)
	assert.ErrorIs(t, err, ErrNotControllable)
	assert.Empty(t, state)
	assert.Empty(t, d.commands)

	state, err = svc.SetPower(ctx, apBinding(false), true, true)
	require.NoError(t, err)
	assert.Equal(t, PowerOn, state)

	state, err = svc.SetPower(ctx, apBinding(true), false, false)
	require.NoError(t, err)
	assert.Equal(t, PowerOff, state)
	assert.Equal(t, []bool{true, false}, d.commands)
}

func TestSetPower_FailureIsUnknown(t *testing.T) {
	d := &fakeDriver{setErr: errors.New("unreachable")}
	svc := newFakeService(d)

	state, err := svc.SetPower(context.Background(), apBinding(true), true, false)
	assert.Error(t, err)
	assert.Equal(t, PowerUnknown, state)
}

func TestSetPower_NotConfigured(t *testing.T) {
	svc := newFakeService(&fakeDriver{})
	state, err := svc.SetPower(context.Background(), Binding{Enabled: true, Controllable: true, Outlet: None{}}, true, true)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, PowerDisabled, state)
}

func TestPowerCycle(t *testing.T) {
	d := &fakeDriver{on: true}
	svc := newFakeService(d)

	state, err := svc.PowerCycle(context.Background(), apBinding(false), nil)
	require.NoError(t, err)
	assert.Equal(t, PowerOn, state)
	assert.Equal(t, []bool{false, true}, d.commands)
}

func TestPowerCycle_Cancelled(t *testing.T) {
	d := &fakeDriver{on: true}
	svc := NewServiceWithFactory(func(Config) (Driver, error) { return d, nil }, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	state, err := svc.PowerCycle(ctx, apBinding(false), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PowerOff, state)
	assert.Equal(t, []bool{false}, d.commands)
}

func TestPowerCycle_ResumeRefused(t *testing.T) {
	d := &fakeDriver{on: true}
	svc := newFakeService(d)

	state, err := svc.PowerCycle(context.Background(), apBinding(false), func() bool { return false })
	assert.ErrorIs(t, err, ErrCycleAborted)
	assert.Equal(t, PowerOff, state)
	assert.Equal(t, []bool{false}, d.commands)
}

func TestBindingNormalize(t *testing.T) {
	b := Binding{Enabled: true, Controllable: true, PowerCycle: true}.Normalize()
	assert.False(t, b.Controllable)
	assert.False(t, b.PowerCycle)
	assert.Equal(t, TypeNone, b.Outlet.Type())

	kept := apBinding(true)
	kept.PowerCycle = true
	kept = kept.Normalize()
	assert.True(t, kept.Controllable)
	assert.True(t, kept.PowerCycle)
}

func TestNP02BDriver(t *testing.T) {
	var lastQuery string
	state := "10"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		lastQuery = r.URL.RawQuery
		switch r.URL.RawQuery {
		case "$A5":
			_, _ = w.Write([]byte(state))
		default:
			_, _ = w.Write([]byte("$A0"))
		}
	}))
	defer srv.Close()

	cfg, err := NewNP02B("10.0.0.3", 2, "admin", "secret")
	require.NoError(t, err)
	d := newNP02BDriver(cfg, srv.Client())
	d.baseURL = srv.URL
	ctx := context.Background()

	on, err := d.State(ctx)
	require.NoError(t, err)
	assert.True(t, on, "outlet 2 is the first digit")

	cfg.Outlet = 1
	d.cfg = cfg
	on, err = d.State(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, d.SetState(ctx, true))
	assert.Equal(t, "$A3%201%201", lastQuery)

	state = "$AF"
	_, err = d.State(ctx)
	assert.Error(t, err)

	d.cfg.Password = "wrong"
	_, err = d.State(ctx)
	assert.Error(t, err)
}

// fakeSNMP answers Get with a fixed varbind and records Set calls.
type fakeSNMP struct {
	value gosnmp.SnmpPDU
	sets  []gosnmp.SnmpPDU
	err   error
}

func (f *fakeSNMP) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	if f.err != nil {
		return nil, f.err
	}
	pdu := f.value
	pdu.Name = oids[0]
	return &gosnmp.SnmpPacket{Variables: []gosnmp.SnmpPDU{pdu}}, nil
}

func (f *fakeSNMP) Set(pdus []gosnmp.SnmpPDU) (*gosnmp.SnmpPacket, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sets = append(f.sets, pdus...)
	return &gosnmp.SnmpPacket{Variables: pdus}, nil
}

func (f *fakeSNMP) Close() error { return nil }

func TestSNMPDriver_AP7900(t *testing.T) {
	fake := &fakeSNMP{value: gosnmp.SnmpPDU{Type: gosnmp.Integer, Value: 2}}
	var communities []string
	dial := func(_ context.Context, host, community string, _ time.Duration) (snmpSession, error) {
		communities = append(communities, community)
		return fake, nil
	}

	cfg, err := NewAP7900("10.0.0.2", 5)
	require.NoError(t, err)
	d := newSNMPDriver(apcConfig(cfg), dial, time.Second)
	ctx := context.Background()

	on, err := d.State(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	fake.value = gosnmp.SnmpPDU{Type: gosnmp.Integer, Value: 1}
	on, err = d.State(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, d.SetState(ctx, false))
	require.Len(t, fake.sets, 1)
	assert.Equal(t, "1.3.6.1.4.1.318.1.1.12.3.3.1.1.4.5", fake.sets[0].Name)
	assert.Equal(t, 2, fake.sets[0].Value)
	assert.Equal(t, []string{"public", "public", "private"}, communities)
}

func TestSNMPDriver_UnexpectedValues(t *testing.T) {
	fake := &fakeSNMP{value: gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte("7")}}
	dial := func(context.Context, string, string, time.Duration) (snmpSession, error) { return fake, nil }

	cfg, err := NewSNMP(snmpRaw())
	require.NoError(t, err)
	d := newSNMPDriver(cfg, dial, time.Second)

	_, err = d.State(context.Background())
	assert.Error(t, err)

	fake.value = gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte("1")}
	on, err := d.State(context.Background())
	require.NoError(t, err)
	assert.True(t, on)

	fake.value = gosnmp.SnmpPDU{Type: gosnmp.NoSuchObject}
	_, err = d.State(context.Background())
	assert.Error(t, err)

	fake.err = errors.New("request timeout")
	assert.Error(t, d.SetState(context.Background(), true))
}
