package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"kick-miner/internal/clients_api/kick"
)

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

// perChannelService answers per slug and counts fetches per slug.
type perChannelService struct {
	mu      sync.Mutex
	live    map[string]bool
	fetches map[string]int
	sent    map[int64]int
}

func (s *perChannelService) GetChannel(ctx context.Context, slug string) (*kick.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[slug]++
	if slug == "broken" {
		panic("broken channel")
	}
	ch := &kick.Channel{Slug: slug, Chatroom: &kick.Chatroom{ID: int64(len(slug))}}
	if s.live[slug] {
		ch.Livestream = &kick.Livestream{ID: 1}
	}
	return ch, nil
}

func (s *perChannelService) SendMessage(ctx context.Context, chatroomID int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[chatroomID]++
	return nil
}

func (s *perChannelService) fetchCount(slug string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[slug]
}

// fastSleep keeps tests quick: every wait becomes a millisecond.
func fastSleep(ctx context.Context, d time.Duration) bool {
	return sleepContext(ctx, time.Millisecond)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSupervisorRunsOneMonitorPerChannel(t *testing.T) {
	svc := &perChannelService{
		live:    map[string]bool{"foo": true},
		fetches: map[string]int{},
		sent:    map[int64]int{},
	}
	notifier := &fakeNotifier{}
	channels := []string{"foo", "barbaz", "broken"}

	sup, err := NewSupervisor(channels, []string{"gm"}, testPolicy, svc, notifier, WithSleeper(fastSleep))
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(sup.Monitors()); got != len(channels) {
		t.Fatalf("monitors = %d, want %d", got, len(channels))
	}

	// A panicking channel must not starve the others.
	waitFor(t, func() bool {
		return svc.fetchCount("foo") >= 3 && svc.fetchCount("barbaz") >= 3 && svc.fetchCount("broken") >= 3
	})

	cancel()
	if !sup.Wait(time.Second) {
		t.Fatal("monitors did not stop after cancellation")
	}

	svc.mu.Lock()
	fooSent, barSent := svc.sent[3], svc.sent[6]
	svc.mu.Unlock()
	if fooSent == 0 {
		t.Fatal("live channel received no messages")
	}
	if barSent != 0 {
		t.Fatal("offline channel received messages")
	}

	var summary, failure bool
	for _, text := range notifier.all() {
		summary = summary || strings.Contains(text, "Started monitoring 3 channels")
		failure = failure || strings.Contains(text, "Monitor broken failed")
	}
	if !summary || !failure {
		t.Fatalf("notifications = %v", notifier.all())
	}
}

func TestSupervisorRejectsInvalidInput(t *testing.T) {
	svc := &perChannelService{}
	if _, err := NewSupervisor([]string{"foo"}, nil, testPolicy, svc, nil); err == nil {
		t.Error("expected error for empty messages")
	}
	if _, err := NewSupervisor([]string{"foo"}, []string{"gm"}, testPolicy, nil, nil); err == nil {
		t.Error("expected error for nil service")
	}
	bad := testPolicy
	bad.Inactive = 0
	if _, err := NewSupervisor([]string{"foo"}, []string{"gm"}, bad, svc, nil); err == nil {
		t.Error("expected error for zero inactive wait")
	}
}

func TestSupervisorStartTwice(t *testing.T) {
	svc := &perChannelService{fetches: map[string]int{}, sent: map[int64]int{}}
	sup, err := NewSupervisor(nil, []string{"gm"}, testPolicy, svc, nil)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestSupervisorZeroChannelsIdles(t *testing.T) {
	svc := &perChannelService{fetches: map[string]int{}, sent: map[int64]int{}}
	sup, err := NewSupervisor(nil, []string{"gm"}, testPolicy, svc, nil)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if len(sup.Monitors()) != 0 {
		t.Fatal("no monitors expected")
	}
}

func TestSupervisorRunNotifiesStop(t *testing.T) {
	svc := &perChannelService{live: map[string]bool{}, fetches: map[string]int{}, sent: map[int64]int{}}
	notifier := &fakeNotifier{}
	sup, err := NewSupervisor([]string{"foo"}, []string{"gm"}, testPolicy, svc, notifier, WithSleeper(fastSleep))
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, func() bool { return svc.fetchCount("foo") >= 1 })
	cancel()
	<-done

	texts := notifier.all()
	if len(texts) < 2 || texts[len(texts)-1] != "Stopped monitoring" {
		t.Fatalf("notifications = %v", texts)
	}
}
