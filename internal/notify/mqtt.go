package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTNotifier publishes offline alerts to a broker topic as JSON. It is
// selected when a broker address is configured; otherwise alerts go to the
// log sink only.
type MQTTNotifier struct {
	client mqtt.Client
	topic  string
}

func NewMQTTNotifier(broker, clientID, topic string) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}

	return &MQTTNotifier{client: client, topic: topic}, nil
}

type alertMessage struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

func (n *MQTTNotifier) Notify(subject, body string) {
	payload, err := json.Marshal(alertMessage{Subject: subject, Body: body, SentAt: time.Now().UTC()})
	if err != nil {
		log.Printf("notify: marshal alert: %v", err)
		return
	}

	token := n.client.Publish(n.topic, 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("notify: publish to %s: timeout", n.topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("notify: publish to %s: %v", n.topic, err)
	}
}

// Close disconnects from the broker, allowing in-flight publishes to drain.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}
