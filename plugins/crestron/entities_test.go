package crestron

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePublisher struct {
	mu        sync.Mutex
	published map[string]any
	retained  map[string]bool
	handlers  map[string]func([]byte)
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		published: make(map[string]any),
		retained:  make(map[string]bool),
		handlers:  make(map[string]func([]byte)),
	}
}

func (f *fakePublisher) Publish(topic string, retained bool, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = payload
	f.retained[topic] = retained
	return nil
}

func (f *fakePublisher) Subscribe(topic string, handler func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakePublisher) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakePublisher) TopicPrefix() string { return "tpanel" }

func (f *fakePublisher) DiscoveryPrefix() string { return "homeassistant" }

func (f *fakePublisher) AvailabilityTopic() string { return "tpanel/status" }

func (f *fakePublisher) get(topic string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[topic]
}

func (f *fakePublisher) deliver(topic, payload string) {
	f.mu.Lock()
	handler := f.handlers[topic]
	f.mu.Unlock()
	if handler != nil {
		handler([]byte(payload))
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEntitiesDiscovery(t *testing.T) {
	pub := newFakePublisher()
	c := NewCoordinator(PanelConfig{Name: "Lobby Panel"}, &fakeRunner{}, Options{Logger: quietLogger()})
	e := NewEntities(c, pub, quietLogger())
	if err := e.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	number, ok := pub.get("homeassistant/number/lobby_panel/brightness/config").(map[string]any)
	if !ok {
		t.Fatalf("number discovery not published")
	}
	if number["unique_id"] != "Lobby Panel_brightness" || number["min"] != 0 || number["max"] != 100 {
		t.Fatalf("unexpected number config: %v", number)
	}
	if number["mode"] != "slider" || number["icon"] != "mdi:brightness-6" || number["unit_of_measurement"] != "%" {
		t.Fatalf("unexpected number presentation: %v", number)
	}
	if number["command_topic"] != "tpanel/lobby_panel/brightness/set" {
		t.Fatalf("unexpected command topic: %v", number["command_topic"])
	}

	power, ok := pub.get("homeassistant/switch/lobby_panel/power/config").(map[string]any)
	if !ok {
		t.Fatalf("switch discovery not published")
	}
	if power["unique_id"] != "Lobby Panel_power" || power["icon"] != "mdi:tablet" {
		t.Fatalf("unexpected switch config: %v", power)
	}

	if pub.get("tpanel/lobby_panel/brightness/state") != "100" || pub.get("tpanel/lobby_panel/power/state") != "ON" {
		t.Fatalf("initial state not published")
	}

	if err := e.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if pub.get("homeassistant/switch/lobby_panel/power/config") != "" {
		t.Fatalf("teardown should clear discovery")
	}
	if len(pub.handlers) != 0 {
		t.Fatalf("teardown should unsubscribe")
	}
}

func TestEntitiesRouteCommands(t *testing.T) {
	pub := newFakePublisher()
	runner := &fakeRunner{replies: map[string]string{
		"BRIGHTNESS 35": "New LCD brightness level: 35%",
		"STANDBY":       "Entering standby",
	}}
	c := NewCoordinator(PanelConfig{Name: "lobby"}, runner, Options{Logger: quietLogger()})
	e := NewEntities(c, pub, quietLogger())
	if err := e.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	pub.deliver("tpanel/lobby/brightness/set", "35.2")
	waitFor(t, "brightness state", func() bool {
		return pub.get("tpanel/lobby/brightness/state") == "35"
	})

	pub.deliver("tpanel/lobby/power/set", "off")
	waitFor(t, "power state", func() bool {
		return pub.get("tpanel/lobby/power/state") == "OFF"
	})

	pub.deliver("tpanel/lobby/power/set", "toggle")
	pub.deliver("tpanel/lobby/brightness/set", "bright")
	if runner.last() != "STANDBY" {
		t.Fatalf("invalid payloads should not reach the panel, last=%q", runner.last())
	}
}

func TestEntitiesClampHugeBrightness(t *testing.T) {
	pub := newFakePublisher()
	runner := &fakeRunner{}
	c := NewCoordinator(PanelConfig{Name: "lobby"}, runner, Options{Logger: quietLogger()})
	e := NewEntities(c, pub, quietLogger())
	if err := e.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	for _, payload := range []string{"Inf", "1e300", "1e400"} {
		runner.mu.Lock()
		runner.commands = nil
		runner.mu.Unlock()

		pub.deliver("tpanel/lobby/brightness/set", payload)
		waitFor(t, "command for "+payload, func() bool {
			return runner.last() != ""
		})
		if got := runner.last(); got != "BRIGHTNESS 100" {
			t.Fatalf("payload %s sent %q", payload, got)
		}
	}

	runner.mu.Lock()
	runner.commands = nil
	runner.mu.Unlock()
	pub.deliver("tpanel/lobby/brightness/set", "NaN")
	time.Sleep(50 * time.Millisecond)
	if got := runner.last(); got != "" {
		t.Fatalf("NaN should not reach the panel, sent %q", got)
	}
}
