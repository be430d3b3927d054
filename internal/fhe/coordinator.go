package fhe

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/pkg/logs"
)

// State is the lifecycle state of a Coordinator.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Coordinator owns the connection to the encryption service. Construct one in
// the composition root and pass it to whatever needs to encrypt or decrypt.
//
// At any time a Coordinator holds either a ready Instance or at most one
// in-flight initialization, never both.
type Coordinator struct {
	runtime Runtime
	network NetworkConfig

	group singleflight.Group

	mu       sync.Mutex
	instance Instance
	state    State
	lastErr  error
	// generation is bumped by Reset. An initialization only publishes its
	// result if the generation it started in is still current.
	generation uint64

	// waiters counts callers currently blocked on an initialization.
	waiters atomic.Int32
}

// NewCoordinator returns a Coordinator which will initialize runtime against
// network on first use.
func NewCoordinator(runtime Runtime, network NetworkConfig) *Coordinator {
	return &Coordinator{
		runtime: runtime,
		network: network,
		state:   StateUninitialized,
	}
}

// Network returns the network the coordinator binds instances to.
func (c *Coordinator) Network() NetworkConfig {
	return c.network
}

// EnsureInitialized returns the ready Instance, initializing it if needed.
//
// Concurrent callers share a single initialization and all observe its
// outcome: the same Instance, or the same error. A failed initialization is
// not cached, so the next call starts again from the first phase.
//
// ctx only bounds how long this caller waits. The initialization itself is
// not cancelled when a caller gives up, since other callers may be waiting on
// it.
func (c *Coordinator) EnsureInitialized(ctx context.Context) (Instance, error) {
	c.mu.Lock()
	if c.instance != nil {
		instance := c.instance
		c.mu.Unlock()
		return instance, nil
	}

	gen := c.generation
	c.state = StateInitializing
	// DoChan returns immediately; the result is published under c.mu, so a
	// caller holding c.mu either sees the instance or joins the call.
	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return c.initialize(context.WithoutCancel(ctx), gen)
	})
	c.mu.Unlock()

	c.waiters.Add(1)
	defer c.waiters.Add(-1)

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Instance), nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func (c *Coordinator) initialize(ctx context.Context, gen uint64) (Instance, error) {
	logger := klog.FromContext(ctx).WithName("fhe")
	logger.Info("Initializing encryption service", "network", c.network.Name, "relayer", c.network.RelayerURL)
	start := time.Now()

	instance, err := c.runPhases(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop the call from the group while c.mu is held, so a caller that sees
	// the published outcome starts a new call instead of joining this one.
	c.group.Forget(strconv.FormatUint(gen, 10))

	if gen != c.generation {
		// Reset was called while this initialization was running. Callers
		// already waiting on it still get its result, but it is not
		// published as the shared instance.
		logger.V(logs.Debug).Info("Discarding initialization that started before reset", "generation", gen)
		return instance, err
	}

	if err != nil {
		c.state = StateFailed
		c.lastErr = err
		metricInitializations.WithLabelValues("failure").Inc()
		logger.Error(err, "Encryption service initialization failed; the next call will retry")
		return nil, err
	}

	c.instance = instance
	c.state = StateReady
	c.lastErr = nil
	metricInitializations.WithLabelValues("success").Inc()
	logger.Info("Encryption service ready", "duration", time.Since(start).Round(time.Millisecond))
	return instance, nil
}

// runPhases runs the two startup phases strictly in order.
func (c *Coordinator) runPhases(ctx context.Context) (Instance, error) {
	logger := klog.FromContext(ctx).WithName("fhe")

	if err := c.runtime.LoadModule(ctx); err != nil {
		return nil, &InitError{Phase: PhaseLoadModule, Err: err}
	}
	logger.V(logs.Debug).Info("Loaded computation module")

	instance, err := c.runtime.NewInstance(ctx, c.network)
	if err != nil {
		return nil, &InitError{Phase: PhaseCreateInstance, Err: err}
	}
	if instance == nil {
		return nil, &InitError{Phase: PhaseCreateInstance, Err: errors.New("runtime returned no instance")}
	}
	logger.V(logs.Debug).Info("Created service instance")

	return instance, nil
}

// Instance returns the ready Instance, or nil. It never starts an
// initialization.
func (c *Coordinator) Instance() Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error from the most recent failed initialization, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Reset forgets the current Instance and any in-flight initialization. The
// next EnsureInitialized runs both phases again. An initialization already in
// flight is not cancelled; its callers still receive its result.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.instance = nil
	c.state = StateUninitialized
	c.lastErr = nil
	klog.Background().WithName("fhe").V(logs.Debug).Info("Encryption service reset", "generation", c.generation)
}
