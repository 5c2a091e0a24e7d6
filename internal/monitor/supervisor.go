package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"kick-miner/internal/infra/log"

	"go.uber.org/zap"
)

// DefaultDrainTimeout bounds how long Wait blocks for monitors after shutdown.
const DefaultDrainTimeout = 10 * time.Second

// Supervisor starts one monitor goroutine per channel and tracks them until shutdown.
type Supervisor struct {
	channels []string
	messages []string
	wait     WaitPolicy
	service  ChannelService
	notifier Notifier
	opts     []Option

	wg       sync.WaitGroup
	mu       sync.Mutex
	monitors []*Monitor
	started  bool
}

// NewSupervisor validates inputs up front: every misconfiguration is reported
// here, before any goroutine starts.
func NewSupervisor(channels, messages []string, wait WaitPolicy, service ChannelService, notifier Notifier, opts ...Option) (*Supervisor, error) {
	if service == nil {
		return nil, errors.New("channel service is nil")
	}
	if len(messages) == 0 {
		return nil, errors.New("no messages configured")
	}
	if err := wait.Validate(); err != nil {
		return nil, err
	}
	return &Supervisor{
		channels: channels,
		messages: messages,
		wait:     wait,
		service:  service,
		notifier: notifier,
		opts:     opts,
	}, nil
}

// Start launches every monitor and returns immediately. Monitors stop when ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("supervisor already started")
	}

	monitors := make([]*Monitor, 0, len(s.channels))
	for _, channel := range s.channels {
		opts := append([]Option{WithNotifier(s.notifier)}, s.opts...)
		m, err := New(channel, s.service, s.messages, s.wait, opts...)
		if err != nil {
			return fmt.Errorf("monitor %q: %w", channel, err)
		}
		monitors = append(monitors, m)
	}

	for _, m := range monitors {
		s.wg.Add(1)
		go s.runMonitor(ctx, m)
	}
	s.monitors = monitors
	s.started = true

	if len(monitors) == 0 {
		log.LogWarn("No channels configured, nothing to monitor")
	}
	summary := fmt.Sprintf("Started monitoring %d channels", len(monitors))
	log.LogSuccess(summary, zap.Strings("channels", s.channels))
	s.notify(ctx, summary)
	return nil
}

// runMonitor keeps one monitor alive. Run recovers panics per cycle; this recover
// only catches bugs in the loop itself, and restarts it after the error wait.
func (s *Supervisor) runMonitor(ctx context.Context, m *Monitor) {
	defer s.wg.Done()
	for {
		err := s.runGuarded(ctx, m)
		if ctx.Err() != nil {
			log.LogDebug("Monitor stopped", zap.String("channel", m.Channel()))
			return
		}
		log.LogError("Monitor loop exited unexpectedly, restarting",
			zap.String("channel", m.Channel()), zap.Error(err))
		if !m.sleep(ctx, m.wait.Error) {
			return
		}
	}
}

func (s *Supervisor) runGuarded(ctx context.Context, m *Monitor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.ChannelLogger(m.Channel()).Error("Monitor loop panicked",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.Run(ctx)
}

// Monitors returns the monitors created by Start.
func (s *Supervisor) Monitors() []*Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Monitor(nil), s.monitors...)
}

// Wait blocks until every monitor returned or timeout elapsed. It reports whether
// all monitors stopped in time. Call it after cancelling the Start context.
func (s *Supervisor) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Run starts all monitors, blocks until ctx is cancelled, then drains them.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.LogInfo("Shutdown signal received, stopping monitors...")

	// ctx is already cancelled here; the notifier gets its own short deadline.
	notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.Wait(DefaultDrainTimeout) {
		log.LogSuccess("All monitors stopped")
		s.notify(notifyCtx, "Stopped monitoring")
	} else {
		log.LogWarn("Timeout waiting for monitors to stop, abandoning them")
	}
	return nil
}

func (s *Supervisor) notify(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, text); err != nil {
		log.LogWarn("Failed to send notification", zap.Error(err))
	}
}
