package sleeptight

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
)

// Signals a worker reacts to.
const (
	SleepSignal = syscall.SIGUSR1
	WakeSignal  = syscall.SIGUSR2
	StopSignal  = syscall.SIGTERM
)

// Controller holds the pause and stop requests of one worker. The engine
// polls it between repetition passes; signals or direct calls change it.
type Controller struct {
	mu       sync.Mutex
	cond     *sync.Cond
	sleeping bool
	stopping bool

	sigs   chan os.Signal
	done   chan struct{}
	logger *logging.Logger
}

// New returns an awake controller that is not listening to signals yet.
func New(logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Controller{logger: logger}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Listen routes SleepSignal, WakeSignal and StopSignal to the controller
// until Close.
func (c *Controller) Listen() {
	sigs := make(chan os.Signal, 4)
	done := make(chan struct{})
	signal.Notify(sigs, SleepSignal, WakeSignal, StopSignal)

	c.mu.Lock()
	c.sigs, c.done = sigs, done
	c.mu.Unlock()
	go c.watch(sigs, done)
}

func (c *Controller) watch(sigs <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case sig := <-sigs:
			c.logger.Debug("Received signal", zap.Stringer("signal", sig))
			switch sig {
			case SleepSignal:
				c.Sleep()
			case WakeSignal:
				c.Wake()
			case StopSignal:
				c.RequestStop()
			}
		case <-done:
			return
		}
	}
}

// Close stops listening to signals and wakes any waiter.
func (c *Controller) Close() {
	c.mu.Lock()
	sigs, done := c.sigs, c.done
	c.sigs, c.done = nil, nil
	c.mu.Unlock()
	if sigs != nil {
		signal.Stop(sigs)
		close(done)
	}
	c.Wake()
}

// Sleep requests a pause before the next repetition pass.
func (c *Controller) Sleep() {
	c.mu.Lock()
	c.sleeping = true
	c.mu.Unlock()
}

// Wake ends a pause.
func (c *Controller) Wake() {
	c.mu.Lock()
	c.sleeping = false
	c.mu.Unlock()
	c.cond.Broadcast()
}

// RequestStop asks the worker to finish the current alignment step and
// exit. It also ends any pause so the request is seen.
func (c *Controller) RequestStop() {
	c.mu.Lock()
	c.stopping = true
	c.sleeping = false
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Sleeping reports whether a pause is requested.
func (c *Controller) Sleeping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeping
}

// Stopping reports whether a stop is requested.
func (c *Controller) Stopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// WaitAwake blocks while a pause is requested.
func (c *Controller) WaitAwake() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sleeping {
		c.logger.Info("Sleeping until woken")
	}
	for c.sleeping {
		c.cond.Wait()
	}
}
