package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT publishes agent status to a broker on the home network. Publishes
// are fire-and-forget with short timeouts: the notifier must never stall
// the mission loop, and the broker is only reachable while a Wi-Fi session
// happens to be up anyway.
type MQTT struct {
	client     mqtt.Client
	deviceName string
}

func NewMQTT(broker string, port int, clientID, deviceName string) *MQTT {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", broker, port))
	opts.SetClientID(clientID)

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		slog.Info("notify: mqtt connected", "broker", broker, "port", port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Debug("notify: mqtt connection lost", "error", err)
	})

	m := &MQTT{client: mqtt.NewClient(opts), deviceName: deviceName}
	// ConnectRetry keeps trying in the background; boot never blocks on the
	// broker.
	m.client.Connect()
	return m
}

func (m *MQTT) Event(code, msg string) {
	m.publish(fmt.Sprintf("devices/%s/events", m.deviceName), map[string]string{
		"code": code,
		"msg":  msg,
		"ts":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (m *MQTT) Status(st Status) {
	m.publish(fmt.Sprintf("devices/%s/status", m.deviceName), st)
}

func (m *MQTT) publish(topic string, payload any) {
	if !m.client.IsConnectionOpen() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("notify: marshal failed", "topic", topic, "error", err)
		return
	}
	token := m.client.Publish(topic, 0, false, data)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Debug("notify: publish timeout", "topic", topic)
		return
	}
	if token.Error() != nil {
		slog.Debug("notify: publish failed", "topic", topic, "error", token.Error())
	}
}

// Close disconnects from the broker. Only the shutdown path calls this.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
