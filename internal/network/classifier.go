package network

import (
	"context"
	"sync"
	"time"

	"barsync-go/config"

	log "github.com/sirupsen/logrus"
)

// State is the classified network condition. Degraded means the backend is
// reachable but failing or slow, which is not the same as confirmed down.
type State string

const (
	StateOnline   State = "online"
	StateDegraded State = "degraded"
	StateOffline  State = "offline"
)

// Decision is the advisory result of a classification. The classifier
// never acts on it; the caller decides what to do.
type Decision struct {
	State            State `json:"state"`
	ShouldQueue      bool  `json:"should_queue"`
	ShouldShowBanner bool  `json:"should_show_banner"`
}

// Prober performs the lightweight reachability check. Satisfied by the
// remote client.
type Prober interface {
	Ping(ctx context.Context) error
}

type outcome struct {
	success bool
	elapsed time.Duration
}

// Classifier folds raw connectivity signals and recent request outcomes
// into a three-state decision. It keeps a sliding window of the last N
// outcomes plus an externally fed link signal.
type Classifier struct {
	cfg    config.NetworkConfig
	prober Prober

	mu      sync.Mutex
	window  []outcome
	linkUp  bool
	last    State

	listenerMu sync.Mutex
	listeners  map[int]func(Decision)
	nextID     int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// NewClassifier creates a classifier. Until outcomes arrive the state is
// online: enqueueing prematurely is worse than one failed direct call.
func NewClassifier(cfg config.NetworkConfig, prober Prober) *Classifier {
	return &Classifier{
		cfg:       cfg,
		prober:    prober,
		linkUp:    true,
		last:      StateOnline,
		listeners: make(map[int]func(Decision)),
	}
}

// RecordOutcome folds one remote-call result into the sliding window.
// Callers record network-level results only; an application rejection is a
// working network.
func (c *Classifier) RecordOutcome(success bool, elapsed time.Duration) {
	c.mu.Lock()
	c.window = append(c.window, outcome{success: success, elapsed: elapsed})
	if len(c.window) > c.cfg.WindowSize {
		c.window = c.window[len(c.window)-c.cfg.WindowSize:]
	}
	decision, changed := c.recomputeLocked()
	c.mu.Unlock()

	if changed {
		c.notify(decision)
	}
}

// SetLinkState feeds the native connectivity signal (OS link state or the
// UI's own signal). A down link is authoritative for offline.
func (c *Classifier) SetLinkState(up bool) {
	c.mu.Lock()
	if c.linkUp == up {
		c.mu.Unlock()
		return
	}
	c.linkUp = up
	decision, changed := c.recomputeLocked()
	c.mu.Unlock()

	log.Infof("Link state changed: up=%v", up)
	if changed {
		c.notify(decision)
	}
}

// Classify returns the current decision without touching the network.
func (c *Classifier) Classify() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return decisionFor(c.classifyLocked())
}

// ForceRecheck performs a reachability probe with its own short timeout
// and folds the result into the window immediately. Used for manual status
// refresh and by the periodic recheck loop.
func (c *Classifier) ForceRecheck(ctx context.Context) Decision {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := c.prober.Ping(probeCtx)
	elapsed := time.Since(start)

	if err != nil {
		log.Debugf("Reachability probe failed after %s: %v", elapsed, err)
	}
	c.RecordOutcome(err == nil, elapsed)
	return c.Classify()
}

// Subscribe registers a listener for decision changes. The listener is
// invoked immediately with the current decision and whenever the state
// flips afterwards. The returned function unsubscribes.
func (c *Classifier) Subscribe(fn func(Decision)) func() {
	c.listenerMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenerMu.Unlock()

	fn(c.Classify())

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners, id)
		c.listenerMu.Unlock()
	}
}

// Start launches the periodic recheck loop.
func (c *Classifier) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.RecheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.ForceRecheck(context.Background())
			case <-c.stopCh:
				return
			}
		}
	}()

	log.Info("Network classifier started")
}

// Stop halts the periodic recheck loop.
func (c *Classifier) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
	c.running = false
	log.Info("Network classifier stopped")
}

func (c *Classifier) notify(d Decision) {
	c.listenerMu.Lock()
	fns := make([]func(Decision), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn(d)
	}
}

// recomputeLocked reclassifies and reports whether the state changed.
func (c *Classifier) recomputeLocked() (Decision, bool) {
	state := c.classifyLocked()
	if state == c.last {
		return decisionFor(state), false
	}
	log.Infof("Network state changed: %s -> %s", c.last, state)
	c.last = state
	return decisionFor(state), true
}

func (c *Classifier) classifyLocked() State {
	if !c.linkUp {
		return StateOffline
	}

	if len(c.window) == 0 {
		return StateOnline
	}

	// Confirmed offline: the last K attempts all failed at network level.
	if c.cfg.ConsecutiveFailures > 0 && len(c.window) >= c.cfg.ConsecutiveFailures {
		offline := true
		for _, o := range c.window[len(c.window)-c.cfg.ConsecutiveFailures:] {
			if o.success {
				offline = false
				break
			}
		}
		if offline {
			return StateOffline
		}
	}

	failures := 0
	var totalLatency time.Duration
	for _, o := range c.window {
		if !o.success {
			failures++
		}
		totalLatency += o.elapsed
	}
	failureRate := float64(failures) / float64(len(c.window))
	avgLatency := totalLatency / time.Duration(len(c.window))

	if failureRate > c.cfg.FailureRateThreshold || avgLatency > c.cfg.LatencyThreshold {
		return StateDegraded
	}
	return StateOnline
}

func decisionFor(state State) Decision {
	switch state {
	case StateOffline:
		return Decision{State: state, ShouldQueue: true, ShouldShowBanner: true}
	case StateDegraded:
		return Decision{State: state, ShouldQueue: true, ShouldShowBanner: true}
	default:
		return Decision{State: StateOnline}
	}
}
