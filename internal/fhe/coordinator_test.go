package fhe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/ktesting"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	log := ktesting.NewLogger(t, ktesting.NewConfig(ktesting.Verbosity(10)))
	return klog.NewContext(t.Context(), log)
}

func TestCoordinator_EnsureInitialized(t *testing.T) {
	t.Run("initializes once and returns the same instance", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		c := NewCoordinator(rt, SepoliaConfig)
		assert.Equal(t, StateUninitialized, c.State())
		assert.Nil(t, c.Instance())

		first, err := c.EnsureInitialized(ctx)
		require.NoError(t, err)
		second, err := c.EnsureInitialized(ctx)
		require.NoError(t, err)

		assert.Same(t, rt.FakeInstance(), first)
		assert.Same(t, first, second)
		assert.Equal(t, StateReady, c.State())
		assert.Equal(t, []string{PhaseLoadModule, PhaseCreateInstance}, rt.Calls())
	})

	t.Run("concurrent callers share one initialization", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		rt.Gate = make(chan struct{})
		c := NewCoordinator(rt, SepoliaConfig)

		const callers = 10
		instances := make([]Instance, callers)
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				instances[i], errs[i] = c.EnsureInitialized(ctx)
			}()
		}

		require.Eventually(t, func() bool { return c.waiters.Load() == callers }, 5*time.Second, time.Millisecond)
		assert.Equal(t, StateInitializing, c.State())
		close(rt.Gate)
		wg.Wait()

		for i := range callers {
			require.NoError(t, errs[i])
			assert.Same(t, rt.FakeInstance(), instances[i])
		}
		assert.Equal(t, []string{PhaseLoadModule, PhaseCreateInstance}, rt.Calls())
		assert.Equal(t, StateReady, c.State())
	})

	t.Run("concurrent callers all observe the same failure", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		rt.Gate = make(chan struct{})
		rt.SetErrors(errors.New("module download failed"), nil)
		c := NewCoordinator(rt, SepoliaConfig)

		const callers = 5
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = c.EnsureInitialized(ctx)
			}()
		}
		require.Eventually(t, func() bool { return c.waiters.Load() == callers }, 5*time.Second, time.Millisecond)
		close(rt.Gate)
		wg.Wait()

		for i := range callers {
			var initErr *InitError
			require.ErrorAs(t, errs[i], &initErr)
			assert.Equal(t, PhaseLoadModule, initErr.Phase)
			assert.Same(t, errs[0], errs[i])
		}
		assert.Equal(t, []string{PhaseLoadModule}, rt.Calls())
		assert.Equal(t, StateFailed, c.State())
	})

	t.Run("retries after a load failure", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		rt.SetErrors(errors.New("network unreachable"), nil)
		c := NewCoordinator(rt, SepoliaConfig)

		_, err := c.EnsureInitialized(ctx)
		require.ErrorContains(t, err, "network unreachable")
		assert.Equal(t, StateFailed, c.State())
		assert.Equal(t, err, c.Err())
		assert.Nil(t, c.Instance())

		rt.SetErrors(nil, nil)
		instance, err := c.EnsureInitialized(ctx)
		require.NoError(t, err)
		assert.NotNil(t, instance)
		assert.NoError(t, c.Err())
		assert.Equal(t, []string{PhaseLoadModule, PhaseLoadModule, PhaseCreateInstance}, rt.Calls())
	})

	t.Run("call after a failure runs a new initialization", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		rt.SetErrors(errors.New("network unreachable"), nil)
		c := NewCoordinator(rt, SepoliaConfig)

		_, err := c.EnsureInitialized(ctx)
		require.Error(t, err)
		require.Equal(t, StateFailed, c.State())

		rt.SetErrors(nil, nil)
		rt.Gate = make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, err := c.EnsureInitialized(ctx)
			done <- err
		}()
		require.Eventually(t, func() bool { return c.waiters.Load() == 1 }, 5*time.Second, time.Millisecond)
		assert.Equal(t, StateInitializing, c.State())
		assert.Equal(t, []string{PhaseLoadModule}, rt.Calls())

		close(rt.Gate)
		require.NoError(t, <-done)
		assert.Equal(t, StateReady, c.State())
		assert.Equal(t, []string{PhaseLoadModule, PhaseLoadModule, PhaseCreateInstance}, rt.Calls())
	})

	t.Run("caller that sees a failure never joins the failed call", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		rt.SetErrors(errors.New("network unreachable"), nil)
		c := NewCoordinator(rt, SepoliaConfig)

		for i := range 200 {
			c.Reset()
			first := make(chan error, 1)
			go func() {
				_, err := c.EnsureInitialized(ctx)
				first <- err
			}()
			require.Eventually(t, func() bool { return c.State() == StateFailed }, 5*time.Second, time.Microsecond)

			_, err := c.EnsureInitialized(ctx)
			require.ErrorContains(t, err, "network unreachable")
			require.ErrorContains(t, <-first, "network unreachable")
			require.Len(t, rt.Calls(), 2*(i+1), "iteration %d", i)
		}
	})

	t.Run("instance creation failure restarts from the first phase", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		rt.SetErrors(nil, errors.New("relayer returned 503"))
		c := NewCoordinator(rt, SepoliaConfig)

		_, err := c.EnsureInitialized(ctx)
		var initErr *InitError
		require.ErrorAs(t, err, &initErr)
		assert.Equal(t, PhaseCreateInstance, initErr.Phase)
		assert.EqualError(t, err, "encryption service initialization failed during create-instance: relayer returned 503")

		rt.SetErrors(nil, nil)
		_, err = c.EnsureInitialized(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{
			PhaseLoadModule, PhaseCreateInstance,
			PhaseLoadModule, PhaseCreateInstance,
		}, rt.Calls())
	})

	t.Run("caller gives up without cancelling the initialization", func(t *testing.T) {
		rt := NewFakeRuntime()
		rt.Gate = make(chan struct{})
		c := NewCoordinator(rt, SepoliaConfig)

		ctx, cancel := context.WithCancel(testContext(t))
		done := make(chan error, 1)
		go func() {
			_, err := c.EnsureInitialized(ctx)
			done <- err
		}()
		require.Eventually(t, func() bool { return c.waiters.Load() == 1 }, 5*time.Second, time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)

		close(rt.Gate)
		require.Eventually(t, func() bool { return c.State() == StateReady }, 5*time.Second, time.Millisecond)
		assert.Same(t, rt.FakeInstance(), c.Instance())
	})
}

func TestCoordinator_Reset(t *testing.T) {
	t.Run("runs both phases again", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		c := NewCoordinator(rt, SepoliaConfig)

		_, err := c.EnsureInitialized(ctx)
		require.NoError(t, err)

		c.Reset()
		assert.Equal(t, StateUninitialized, c.State())
		assert.Nil(t, c.Instance())

		_, err = c.EnsureInitialized(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{
			PhaseLoadModule, PhaseCreateInstance,
			PhaseLoadModule, PhaseCreateInstance,
		}, rt.Calls())
	})

	t.Run("clears a failure", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		rt.SetErrors(errors.New("boom"), nil)
		c := NewCoordinator(rt, SepoliaConfig)

		_, err := c.EnsureInitialized(ctx)
		require.Error(t, err)
		c.Reset()
		assert.Equal(t, StateUninitialized, c.State())
		assert.NoError(t, c.Err())
	})

	t.Run("in-flight result is not published after reset", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		rt.Gate = make(chan struct{})
		c := NewCoordinator(rt, SepoliaConfig)

		done := make(chan Instance, 1)
		go func() {
			instance, err := c.EnsureInitialized(ctx)
			assert.NoError(t, err)
			done <- instance
		}()
		require.Eventually(t, func() bool { return c.waiters.Load() == 1 }, 5*time.Second, time.Millisecond)

		c.Reset()
		close(rt.Gate)

		assert.NotNil(t, <-done, "waiters of the old initialization still get its result")
		assert.Nil(t, c.Instance())
		assert.Equal(t, StateUninitialized, c.State())

		_, err := c.EnsureInitialized(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{
			PhaseLoadModule, PhaseCreateInstance,
			PhaseLoadModule, PhaseCreateInstance,
		}, rt.Calls())
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
