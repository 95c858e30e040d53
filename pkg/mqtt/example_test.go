package mqtt_test

import (
	"context"
	"encoding/json"
	"time"

	"github.com/onesibox/onesibox/pkg/log"
	"github.com/onesibox/onesibox/pkg/mqtt"
	mqtttopic "github.com/onesibox/onesibox/pkg/mqtt/topic"
)

// ExampleClient wires the client the way an appliance uses it: an offline
// last will, a command subscription and a retained online flag.
func ExampleClient() {
	const applianceID = "3f2c1c1e"
	topics := mqtttopic.NewBuilder("onesibox/v1")
	offline, _ := json.Marshal(map[string]any{"appliance_id": applianceID, "online": false})

	client, err := mqtt.NewClient(&mqtt.ClientConfig{
		BrokerURL:        "mqtts://broker.example.org:8883",
		ClientID:         "onesibox-" + applianceID,
		ReconnectBackoff: 5 * time.Second,
		WillTopic:        topics.Online(applianceID),
		WillPayload:      offline,
		WillQoS:          1,
		WillRetain:       true,
		OnStateChange: func(state mqtt.ConnectionState) {
			log.Info("Push channel state changed", "state", state)
		},
	})
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}
	defer client.Disconnect(context.Background())

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Broker unreachable")
		return
	}

	onCommand := func(_ context.Context, topic string, payload []byte) {
		log.Info("Command received", "topic", topic, "payload", json.RawMessage(payload))
	}
	if err := client.Subscribe(ctx, topics.Commands(applianceID), 1, onCommand); err != nil {
		log.Error(err, "Failed to subscribe")
		return
	}

	online, _ := json.Marshal(map[string]any{"appliance_id": applianceID, "online": true})
	if err := client.Publish(ctx, topics.Online(applianceID), 1, true, online); err != nil {
		log.Error(err, "Failed to publish online flag")
	}
}
