package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/aide/internal/bus"
)

type fakeSubscriber struct {
	channels map[string]chan bus.Notification
}

func (f *fakeSubscriber) Subscribe(_ context.Context, platform string) (<-chan bus.Notification, func()) {
	ch := f.channels[platform]
	return ch, func() {}
}

type fakeAdapter struct {
	platform string
	err      error

	mu        sync.Mutex
	delivered []bus.Notification
}

func (f *fakeAdapter) Platform() string { return f.platform }
func (f *fakeAdapter) Deliver(_ context.Context, n bus.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, n)
	return f.err
}

func (f *fakeAdapter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func TestRouterRoutesByPlatform(t *testing.T) {
	discordCh := make(chan bus.Notification, 1)
	telegramCh := make(chan bus.Notification, 1)
	sub := &fakeSubscriber{channels: map[string]chan bus.Notification{
		"discord":  discordCh,
		"telegram": telegramCh,
	}}
	discord := &fakeAdapter{platform: "discord"}
	telegram := &fakeAdapter{platform: "telegram"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRouter(sub, discord, telegram).Run(ctx)
		close(done)
	}()

	discordCh <- bus.Notification{Platform: "discord", PlatformChannelID: "c1", Content: "to discord"}
	telegramCh <- bus.Notification{Platform: "telegram", PlatformChannelID: "c2", Content: "to telegram"}

	deadline := time.After(2 * time.Second)
	for discord.count() < 1 || telegram.count() < 1 {
		select {
		case <-deadline:
			t.Fatalf("deliveries: discord=%d telegram=%d", discord.count(), telegram.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if discord.delivered[0].Content != "to discord" {
		t.Errorf("discord got %q", discord.delivered[0].Content)
	}
	if telegram.delivered[0].Content != "to telegram" {
		t.Errorf("telegram got %q", telegram.delivered[0].Content)
	}
}

func TestRouterDropsFailedDelivery(t *testing.T) {
	ch := make(chan bus.Notification, 2)
	sub := &fakeSubscriber{channels: map[string]chan bus.Notification{"discord": ch}}
	adapter := &fakeAdapter{platform: "discord", err: errors.New("api error")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRouter(sub, adapter).Run(ctx)
		close(done)
	}()

	ch <- bus.Notification{Platform: "discord", Content: "first"}
	ch <- bus.Notification{Platform: "discord", Content: "second"}

	deadline := time.After(2 * time.Second)
	for adapter.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("deliveries = %d, want the failure not to stall the loop", adapter.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestRouterStopsOnContextCancel(t *testing.T) {
	ch := make(chan bus.Notification)
	sub := &fakeSubscriber{channels: map[string]chan bus.Notification{"discord": ch}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRouter(sub, &fakeAdapter{platform: "discord"}).Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop on cancel")
	}
}
