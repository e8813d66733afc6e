package telegram

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestClientBuildsOnce(t *testing.T) {
	var builds atomic.Int64
	client := NewClient(func() (*tele.Bot, error) {
		builds.Add(1)
		return tele.NewBot(tele.Settings{Token: "test", Offline: true})
	})

	if client.Built() {
		t.Fatal("client reported built before first use")
	}

	const goroutines = 16
	bots := make([]*tele.Bot, goroutines)
	errs := make([]error, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bots[i], errs[i] = client.Bot()
		}(i)
	}
	wg.Wait()

	if got := builds.Load(); got != 1 {
		t.Fatalf("expected exactly one build under concurrent first calls, got %d", got)
	}
	for i := 0; i < goroutines; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: unexpected error: %v", i, errs[i])
		}
		if bots[i] != bots[0] {
			t.Fatalf("goroutine %d received a different bot instance", i)
		}
	}
	if !client.Built() {
		t.Fatal("client not marked built after construction")
	}
}

func TestClientBuildFailureIsNotCached(t *testing.T) {
	fail := true
	var builds int
	client := NewClient(func() (*tele.Bot, error) {
		builds++
		if fail {
			return nil, errors.New("temporary failure")
		}
		return tele.NewBot(tele.Settings{Token: "test", Offline: true})
	})

	if _, err := client.Bot(); err == nil {
		t.Fatal("expected build error")
	}
	if client.Built() {
		t.Fatal("failed build must not mark the client built")
	}

	fail = false
	if _, err := client.Bot(); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if builds != 2 {
		t.Fatalf("expected 2 build attempts, got %d", builds)
	}
}

func TestClientWithoutBuilder(t *testing.T) {
	client := NewClient(nil)
	if _, err := client.Bot(); err == nil {
		t.Fatal("expected error for missing build function")
	}
}
