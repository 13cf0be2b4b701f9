package crestron

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/tpanel/internal/config"
	"github.com/joshp123/tpanel/internal/mqtt"
)

const (
	payloadOn  = "ON"
	payloadOff = "OFF"

	// Bounds one command round trip triggered from MQTT.
	entityCommandTimeout = 30 * time.Second
)

// Entities exposes one panel to Home Assistant as a brightness number and a
// power switch, both on a single device.
type Entities struct {
	coord *Coordinator
	pub   mqtt.Publisher
	log   logrus.FieldLogger

	ctx context.Context

	brightnessConfig  string
	brightnessCommand string
	brightnessState   string
	powerConfig       string
	powerCommand      string
	powerState        string
}

func NewEntities(coord *Coordinator, pub mqtt.Publisher, log logrus.FieldLogger) *Entities {
	node := config.NodeID(coord.Name())
	base := fmt.Sprintf("%s/%s", pub.TopicPrefix(), node)
	return &Entities{
		coord:             coord,
		pub:               pub,
		log:               log.WithField("panel", coord.Name()),
		ctx:               context.Background(),
		brightnessConfig:  mqtt.DiscoveryTopic(pub.DiscoveryPrefix(), "number", node, "brightness"),
		brightnessCommand: base + "/brightness/set",
		brightnessState:   base + "/brightness/state",
		powerConfig:       mqtt.DiscoveryTopic(pub.DiscoveryPrefix(), "switch", node, "power"),
		powerCommand:      base + "/power/set",
		powerState:        base + "/power/state",
	}
}

func (e *Entities) device() mqtt.Device {
	return mqtt.Device{
		Identifiers:  []string{"crestron_tpanel_" + config.NodeID(e.coord.Name())},
		Name:         e.coord.Name(),
		Manufacturer: "Crestron",
		Model:        "TSW-1070",
	}
}

// Setup publishes discovery configs, subscribes to command topics and
// publishes the current state. Commands run under ctx.
func (e *Entities) Setup(ctx context.Context) error {
	e.ctx = ctx
	name := e.coord.Name()
	avail := e.pub.AvailabilityTopic()

	number := mqtt.DiscoveryBase("Brightness", name+"_brightness", e.brightnessCommand, e.brightnessState, avail, e.device())
	number["min"] = 0
	number["max"] = 100
	number["step"] = 1
	number["unit_of_measurement"] = "%"
	number["mode"] = "slider"
	number["icon"] = "mdi:brightness-6"
	if err := mqtt.PublishDiscovery(e.pub, e.brightnessConfig, number); err != nil {
		return err
	}

	power := mqtt.DiscoveryBase("Power", name+"_power", e.powerCommand, e.powerState, avail, e.device())
	power["payload_on"] = payloadOn
	power["payload_off"] = payloadOff
	power["icon"] = "mdi:tablet"
	if err := mqtt.PublishDiscovery(e.pub, e.powerConfig, power); err != nil {
		return err
	}

	if err := e.pub.Subscribe(e.brightnessCommand, e.onBrightnessCommand); err != nil {
		return fmt.Errorf("subscribe %s: %w", e.brightnessCommand, err)
	}
	if err := e.pub.Subscribe(e.powerCommand, e.onPowerCommand); err != nil {
		return fmt.Errorf("subscribe %s: %w", e.powerCommand, err)
	}

	e.coord.Subscribe(e.publishState)
	state, reach := e.coord.Snapshot()
	e.publishState(name, state, reach)
	return nil
}

// Teardown unsubscribes and removes both entities from Home Assistant.
func (e *Entities) Teardown() error {
	var firstErr error
	for _, topic := range []string{e.brightnessCommand, e.powerCommand} {
		if err := e.pub.Unsubscribe(topic); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, topic := range []string{e.brightnessConfig, e.powerConfig} {
		if err := mqtt.ClearDiscovery(e.pub, topic); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Entities) publishState(_ string, state PanelState, _ Reachability) {
	if err := e.pub.Publish(e.brightnessState, true, strconv.Itoa(state.Brightness)); err != nil {
		e.log.WithError(err).Warn("publish brightness state")
	}
	power := payloadOff
	if state.IsOn {
		power = payloadOn
	}
	if err := e.pub.Publish(e.powerState, true, power); err != nil {
		e.log.WithError(err).Warn("publish power state")
	}
}

// Command handlers return immediately; the SSH round trip would otherwise
// stall the MQTT client's message loop.
func (e *Entities) onBrightnessCommand(payload []byte) {
	// Out-of-range numbers parse as ±Inf with ErrRange and clamp like any
	// other level.
	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	target, ok := BrightnessFromFloat(value)
	if (err != nil && !errors.Is(err, strconv.ErrRange)) || !ok {
		e.log.WithField("payload", string(payload)).Warn("invalid brightness command")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, entityCommandTimeout)
		defer cancel()
		if !e.coord.SetBrightness(ctx, target) {
			e.log.WithField("brightness", target).Warn("set brightness failed")
		}
	}()
}

func (e *Entities) onPowerCommand(payload []byte) {
	var turn func(context.Context) bool
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case payloadOn:
		turn = e.coord.TurnOn
	case payloadOff:
		turn = e.coord.TurnOff
	default:
		e.log.WithField("payload", string(payload)).Warn("invalid power command")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, entityCommandTimeout)
		defer cancel()
		if !turn(ctx) {
			e.log.WithField("payload", string(payload)).Warn("power command failed")
		}
	}()
}
