package mqtt

import (
	"fmt"
)

// Device groups Home Assistant entities under one device card.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DiscoveryTopic returns the retained config topic for an entity,
// e.g. homeassistant/number/lobby/brightness/config.
func DiscoveryTopic(prefix, component, node, object string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, component, node, object)
}

// DiscoveryBase builds the discovery fields shared by every entity kind.
// Empty topics are omitted.
func DiscoveryBase(name, uniqueID, commandTopic, stateTopic, availabilityTopic string, device Device) map[string]any {
	payload := map[string]any{
		"name":               name,
		"unique_id":          uniqueID,
		"availability_topic": availabilityTopic,
		"device":             device,
	}
	if commandTopic != "" {
		payload["command_topic"] = commandTopic
	}
	if stateTopic != "" {
		payload["state_topic"] = stateTopic
	}
	return payload
}

// PublishDiscovery publishes a retained discovery config.
func PublishDiscovery(p Publisher, topic string, payload map[string]any) error {
	if err := p.Publish(topic, true, payload); err != nil {
		return fmt.Errorf("publish discovery %s: %w", topic, err)
	}
	return nil
}

// ClearDiscovery removes an entity by publishing an empty retained config.
func ClearDiscovery(p Publisher, topic string) error {
	return p.Publish(topic, true, "")
}
