package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"barsync-go/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.NetworkConfig {
	return config.NetworkConfig{
		WindowSize:           5,
		ConsecutiveFailures:  3,
		FailureRateThreshold: 0.5,
		LatencyThreshold:     400 * time.Millisecond,
		ProbeTimeout:         time.Second,
		RecheckInterval:      time.Hour,
	}
}

type fakeProber struct {
	err   error
	calls int
}

func (p *fakeProber) Ping(ctx context.Context) error {
	p.calls++
	return p.err
}

func TestClassify_DefaultIsOnline(t *testing.T) {
	c := NewClassifier(testConfig(), &fakeProber{})

	d := c.Classify()
	assert.Equal(t, StateOnline, d.State)
	assert.False(t, d.ShouldQueue)
	assert.False(t, d.ShouldShowBanner)
}

func TestClassify_ConsecutiveFailuresMeanOffline(t *testing.T) {
	c := NewClassifier(testConfig(), &fakeProber{})

	c.RecordOutcome(false, 10*time.Millisecond)
	c.RecordOutcome(false, 10*time.Millisecond)
	assert.NotEqual(t, StateOffline, c.Classify().State, "two failures are not enough")

	c.RecordOutcome(false, 10*time.Millisecond)
	d := c.Classify()
	assert.Equal(t, StateOffline, d.State)
	assert.True(t, d.ShouldQueue)
	assert.True(t, d.ShouldShowBanner)
}

func TestClassify_FailureRateMeansDegraded(t *testing.T) {
	c := NewClassifier(testConfig(), &fakeProber{})

	// 3 of 5 failed, but never 3 in a row.
	c.RecordOutcome(false, 10*time.Millisecond)
	c.RecordOutcome(true, 10*time.Millisecond)
	c.RecordOutcome(false, 10*time.Millisecond)
	c.RecordOutcome(true, 10*time.Millisecond)
	c.RecordOutcome(false, 10*time.Millisecond)

	d := c.Classify()
	assert.Equal(t, StateDegraded, d.State)
	assert.True(t, d.ShouldQueue)
	assert.True(t, d.ShouldShowBanner)
}

func TestClassify_SlowButSuccessfulMeansDegraded(t *testing.T) {
	c := NewClassifier(testConfig(), &fakeProber{})

	for i := 0; i < 5; i++ {
		c.RecordOutcome(true, 900*time.Millisecond)
	}

	assert.Equal(t, StateDegraded, c.Classify().State)
}

func TestClassify_RecoveryThroughWindow(t *testing.T) {
	c := NewClassifier(testConfig(), &fakeProber{})

	for i := 0; i < 5; i++ {
		c.RecordOutcome(false, 10*time.Millisecond)
	}
	require.Equal(t, StateOffline, c.Classify().State)

	// Fast successes push the failures out of the window.
	for i := 0; i < 5; i++ {
		c.RecordOutcome(true, 50*time.Millisecond)
	}
	assert.Equal(t, StateOnline, c.Classify().State)
}

func TestSetLinkState_DownIsAuthoritative(t *testing.T) {
	c := NewClassifier(testConfig(), &fakeProber{})

	c.RecordOutcome(true, 10*time.Millisecond)
	c.SetLinkState(false)
	assert.Equal(t, StateOffline, c.Classify().State)

	c.SetLinkState(true)
	assert.Equal(t, StateOnline, c.Classify().State)
}

func TestForceRecheck_FoldsProbeIntoWindow(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	c := NewClassifier(testConfig(), prober)

	c.ForceRecheck(context.Background())
	c.ForceRecheck(context.Background())
	d := c.ForceRecheck(context.Background())

	assert.Equal(t, 3, prober.calls)
	assert.Equal(t, StateOffline, d.State)

	prober.err = nil
	d = c.ForceRecheck(context.Background())
	// One success breaks the consecutive-failure run.
	assert.NotEqual(t, StateOffline, d.State)
}

func TestSubscribe_ImmediateAndOnChange(t *testing.T) {
	c := NewClassifier(testConfig(), &fakeProber{})

	var got []Decision
	unsubscribe := c.Subscribe(func(d Decision) { got = append(got, d) })

	require.Len(t, got, 1, "current decision delivered on subscribe")
	assert.Equal(t, StateOnline, got[0].State)

	// No notification while the state stays the same.
	c.RecordOutcome(true, 10*time.Millisecond)
	assert.Len(t, got, 1)

	c.SetLinkState(false)
	require.Len(t, got, 2)
	assert.Equal(t, StateOffline, got[1].State)

	unsubscribe()
	c.SetLinkState(true)
	assert.Len(t, got, 2, "no notifications after unsubscribe")
}
