package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventsub-relay/internal/config"
	"eventsub-relay/internal/logging"
)

// Controller runs one relay Service at a time in the background.
type Controller struct {
	rootCtx context.Context
	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
	lastErr error
	wg      sync.WaitGroup

	newService func(config.Options, *logging.Logger, StartHooks) (Service, error)
}

type StartHooks struct {
	OnStatus func(string)
	OnExit   func(error)
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Controller{rootCtx: rootCtx, newService: NewServiceWithHooks}
}

func (c *Controller) Start(opts config.Options, logger *logging.Logger, hooks StartHooks) error {
	if logger == nil {
		panic("runtime.Controller.Start: logger must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("relay is already running")
	}
	mode, _ := opts.Mode()
	logger.Debug("runtime start requested",
		logging.Field("credential_mode", mode.String()),
		logging.Field("channels", len(opts.ChannelIDs)+len(opts.ChannelLogins)),
		logging.Field("webhook", opts.DiscordWebhook != ""),
	)

	service, err := c.newService(opts, logger, hooks)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.rootCtx)
	done := make(chan struct{})
	c.cancel = cancel
	c.running = true
	c.done = done
	c.lastErr = nil
	c.wg.Go(func() {
		defer cancel()
		runErr := service.RunContext(ctx)
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			logger.Debug("runtime service exited due to context cancellation", logging.Field("error", runErr))
			runErr = nil
		} else if runErr != nil {
			logger.Warn("runtime service exited with error", logging.Field("error", runErr))
		} else {
			logger.Info("runtime service exited")
		}
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.lastErr = runErr
		c.mu.Unlock()
		close(done)

		if hooks.OnExit != nil {
			hooks.OnExit(runErr)
		}
	})

	return nil
}

// Done is closed when the most recently started service exits. It is nil
// before the first Start.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err is the error the last service exited with. Cancellation is not an
// error.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) Wait(timeout time.Duration) bool {
	waitDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitDone)
	}()
	if timeout <= 0 {
		<-waitDone
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waitDone:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
