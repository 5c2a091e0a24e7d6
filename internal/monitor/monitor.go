package monitor

// Channel monitor: one poll loop per Kick channel.
// Each cycle fetches the channel, sends one random message if it is live with a
// chatroom, then sleeps for a duration chosen by the outcome. Cycles share no state.

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"kick-miner/internal/clients_api/kick"
	"kick-miner/internal/infra/log"
	"kick-miner/internal/telemetry"

	"go.uber.org/zap"
)

// DefaultErrorWait is used when WaitPolicy.Error is unset.
const DefaultErrorWait = 60 * time.Second

// ChannelService is the part of the Kick client a monitor needs.
// Implementations must be safe for concurrent use.
type ChannelService interface {
	GetChannel(ctx context.Context, slug string) (*kick.Channel, error)
	SendMessage(ctx context.Context, chatroomID int64, content string) error
}

// Notifier receives operator-facing alerts. Optional.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// WaitPolicy decides how long a monitor sleeps after each cycle.
type WaitPolicy struct {
	ActiveMin time.Duration // after a message was sent, inclusive range
	ActiveMax time.Duration
	Inactive  time.Duration // offline, no chatroom, fetch or send failure
	Error     time.Duration // after a panic inside the cycle
}

func (p WaitPolicy) Validate() error {
	if p.ActiveMin <= 0 || p.ActiveMax <= 0 || p.Inactive <= 0 || p.Error < 0 {
		return fmt.Errorf("wait policy durations must be positive: %+v", p)
	}
	if p.ActiveMin > p.ActiveMax {
		return fmt.Errorf("wait policy: active min %s > max %s", p.ActiveMin, p.ActiveMax)
	}
	return nil
}

type Outcome int

const (
	OutcomeNoAction Outcome = iota
	OutcomeSent
	OutcomeErrored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeErrored:
		return "errored"
	default:
		return "no_action"
	}
}

// Reasons only label logs and metrics; they never change the outcome.
const (
	ReasonSent        = "sent"
	ReasonOffline     = "offline"
	ReasonNoChatroom  = "no_chatroom"
	ReasonFetchFailed = "fetch_failed"
	ReasonSendFailed  = "send_failed"
	ReasonPanic       = "panic"
)

// Result is the outcome of one poll cycle.
type Result struct {
	Outcome Outcome
	Reason  string
	Message string // set when Outcome is OutcomeSent
	Err     error  // the swallowed failure, for logging only
}

// Monitor owns the poll loop for one channel.
type Monitor struct {
	channel  string
	service  ChannelService
	messages []string
	wait     WaitPolicy
	notifier Notifier
	rng      *rand.Rand
	sleep    func(ctx context.Context, d time.Duration) bool
}

type Option func(*Monitor)

// WithRand replaces the random source used for message and wait selection.
func WithRand(r *rand.Rand) Option {
	return func(m *Monitor) { m.rng = r }
}

// WithSleeper replaces the context-aware sleep. The function returns false when
// the loop should stop.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(m *Monitor) { m.sleep = sleep }
}

func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// New builds a monitor. messages must be non-empty; the config layer guarantees it,
// and New refuses to build a monitor that would fail on every live cycle.
func New(channel string, service ChannelService, messages []string, wait WaitPolicy, opts ...Option) (*Monitor, error) {
	if channel == "" {
		return nil, fmt.Errorf("channel is empty")
	}
	if service == nil {
		return nil, fmt.Errorf("channel service is nil")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages configured")
	}
	if err := wait.Validate(); err != nil {
		return nil, err
	}
	if wait.Error == 0 {
		wait.Error = DefaultErrorWait
	}

	m := &Monitor{
		channel:  channel,
		service:  service,
		messages: messages,
		wait:     wait,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func (m *Monitor) Channel() string { return m.channel }

// EvaluateOnce runs one fetch-decide-act step. Failures never escape: a failed
// fetch looks exactly like an offline channel to the caller.
func (m *Monitor) EvaluateOnce(ctx context.Context) Result {
	channel, err := m.service.GetChannel(ctx, m.channel)
	if err != nil {
		return Result{Outcome: OutcomeNoAction, Reason: ReasonFetchFailed, Err: err}
	}
	if !channel.IsLive() {
		return Result{Outcome: OutcomeNoAction, Reason: ReasonOffline}
	}

	chatroomID, ok := channel.ChatroomID()
	if !ok {
		return Result{
			Outcome: OutcomeNoAction,
			Reason:  ReasonNoChatroom,
			Err:     fmt.Errorf("channel %s is live but has no chatroom id", m.channel),
		}
	}

	message := m.messages[m.rng.IntN(len(m.messages))]
	if err := m.service.SendMessage(ctx, chatroomID, message); err != nil {
		return Result{Outcome: OutcomeNoAction, Reason: ReasonSendFailed, Err: err}
	}
	return Result{Outcome: OutcomeSent, Reason: ReasonSent, Message: message}
}

// Poll is EvaluateOnce with a recover at the cycle boundary. A panic becomes
// OutcomeErrored so the loop backs off instead of dying.
func (m *Monitor) Poll(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.ChannelLogger(m.channel).Error("Poll cycle panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res = Result{Outcome: OutcomeErrored, Reason: ReasonPanic, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return m.EvaluateOnce(ctx)
}

// NextWait picks the sleep after a cycle.
func (m *Monitor) NextWait(res Result) time.Duration {
	switch res.Outcome {
	case OutcomeSent:
		return m.activeWait()
	case OutcomeErrored:
		return m.wait.Error
	default:
		return m.wait.Inactive
	}
}

// activeWait draws a whole number of seconds uniformly from [ActiveMin, ActiveMax].
func (m *Monitor) activeWait() time.Duration {
	lo := int64(m.wait.ActiveMin / time.Second)
	hi := int64(m.wait.ActiveMax / time.Second)
	if hi <= lo {
		return m.wait.ActiveMin
	}
	return time.Duration(lo+m.rng.Int64N(hi-lo+1)) * time.Second
}

// Run polls until ctx is cancelled. Cycles for one channel never overlap.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res := m.Poll(ctx)
		if ctx.Err() != nil {
			// The cycle was cut short by shutdown; its result is meaningless.
			return ctx.Err()
		}

		wait := m.NextWait(res)
		m.report(ctx, res, wait)

		if !m.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

func (m *Monitor) report(ctx context.Context, res Result, wait time.Duration) {
	secs := int64(wait / time.Second)
	fields := []zap.Field{
		zap.String("channel", m.channel),
		zap.String("outcome", res.Outcome.String()),
		zap.String("reason", res.Reason),
		zap.Int64("wait_seconds", secs),
	}

	switch res.Outcome {
	case OutcomeSent:
		log.LogSuccess(fmt.Sprintf("Sent to %s: %s. Waiting %ds.", m.channel, res.Message, secs), fields...)
	case OutcomeErrored:
		log.LogError(fmt.Sprintf("Error monitoring %s. Waiting %ds.", m.channel, secs), append(fields, zap.Error(res.Err))...)
		if m.notifier != nil {
			if err := m.notifier.Notify(ctx, fmt.Sprintf("Monitor %s failed: %v", m.channel, res.Err)); err != nil {
				log.LogDebug("Notifier failed", zap.String("channel", m.channel), zap.Error(err))
			}
		}
	default:
		if res.Err != nil {
			log.LogWarn(fmt.Sprintf("%s: %s", m.channel, res.Reason), append(fields, zap.Error(res.Err))...)
		}
		if res.Reason == ReasonOffline {
			log.LogStatus(fmt.Sprintf("%s is offline. Waiting %ds.", m.channel, secs), fields...)
		} else {
			log.LogStatus(fmt.Sprintf("%s: nothing sent (%s). Waiting %ds.", m.channel, res.Reason, secs), fields...)
		}
	}

	telemetry.ObservePoll(m.channel, res.Outcome.String(), res.Reason, wait)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
