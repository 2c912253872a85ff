package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/allsky-acquire/pkg/config"
	"github.com/ericogr/allsky-acquire/pkg/output"
	"github.com/ericogr/allsky-acquire/pkg/sensor"
	"github.com/rs/zerolog"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "allsky-acquire"
	DefaultStateTopic = "allsky"
	exposureSuffix    = "/exposure"
	publishTimeout    = 5 * time.Second
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
)

// entity is one Home Assistant sensor carved out of the measurement payload.
type entity struct {
	key         string
	unit        string
	deviceClass string
}

var entities = []entity{
	{key: "temperature", unit: "°C", deviceClass: "temperature"},
	{key: "bx", unit: "µT"},
	{key: "by", unit: "µT"},
	{key: "bz", unit: "µT"},
}

type measurementPayload struct {
	Timestamp   string  `json:"timestamp"`
	Temperature float32 `json:"temperature"`
	Bx          float32 `json:"bx"`
	By          float32 `json:"by"`
	Bz          float32 `json:"bz"`
	Degraded    bool    `json:"degraded"`
}

type exposurePayload struct {
	Timestamp string  `json:"timestamp"`
	Mean      float64 `json:"mean"`
	Saturated float64 `json:"saturated"`
	Degraded  bool    `json:"degraded"`
}

type MQTTOutput struct {
	client         mqtt.Client
	stateTopic     string
	discoveryTopic string
}

func NewMQTT(cfg config.MQTTConfig, log zerolog.Logger) (output.Output, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID).SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newMQTT(client, cfg, log), nil
}

func newMQTT(client mqtt.Client, cfg config.MQTTConfig, log zerolog.Logger) *MQTTOutput {
	st := cfg.StateTopic
	if st == "" {
		st = DefaultStateTopic
	}
	m := &MQTTOutput{client: client, stateTopic: st, discoveryTopic: cfg.DiscoveryTopic}

	// Publish Home Assistant discovery payload(s) if requested
	if m.discoveryTopic != "" {
		// one entry per entity when discoveryTopic contains a formatter
		if strings.Contains(m.discoveryTopic, "%s") {
			for _, e := range entities {
				dTopic := fmt.Sprintf(m.discoveryTopic, e.key)
				payload := baseDiscoveryPayload(discoveryName(cfg, e.key), m.stateTopic, discoveryUniqueID(cfg, e.key), e)
				if err := publishJSON(client, dTopic, true, payload); err != nil {
					log.Warn().Err(err).Str("topic", dTopic).Msg("mqtt discovery publish error")
				}
			}
		} else {
			e := entities[0]
			payload := baseDiscoveryPayload(discoveryName(cfg, ""), m.stateTopic, discoveryUniqueID(cfg, ""), e)
			if err := publishJSON(client, m.discoveryTopic, true, payload); err != nil {
				log.Warn().Err(err).Str("topic", m.discoveryTopic).Msg("mqtt discovery publish error")
			}
		}
	}
	return m
}

func (m *MQTTOutput) PublishMeasurement(r sensor.Measurement) error {
	return publishJSON(m.client, m.stateTopic, false, measurementPayload{
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339Nano),
		Temperature: r.Temperature,
		Bx:          r.Field[0],
		By:          r.Field[1],
		Bz:          r.Field[2],
		Degraded:    r.Degraded,
	})
}

// PublishExposure sends summary statistics only; frames stay on disk.
func (m *MQTTOutput) PublishExposure(e sensor.Exposure) error {
	mean, saturated := e.Image.Stats()
	return publishJSON(m.client, m.stateTopic+exposureSuffix, false, exposurePayload{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Mean:      mean,
		Saturated: saturated,
		Degraded:  e.Degraded,
	})
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// helper: build a human-friendly discovery name; a non-empty key is appended
func discoveryName(cfg config.MQTTConfig, key string) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("All-sky %s", cfg.ClientID)
	}
	if key != "" {
		name = fmt.Sprintf("%s %s", name, key)
	}
	return name
}

// helper: build a unique id for discovery; a non-empty key is appended
func discoveryUniqueID(cfg config.MQTTConfig, key string) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid != "" && key != "" {
		uid = fmt.Sprintf("%s_%s", uid, key)
	}
	return uid
}

// helper: discovery payload for one entity of the shared state topic
func baseDiscoveryPayload(name, stateTopic, uniqueID string, e entity) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   e.unit,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       fmt.Sprintf("{{ value_json.%s }}", e.key),
		keyJSONAttributesTopic: stateTopic,
	}
	if e.deviceClass != "" {
		payload[keyDeviceClass] = e.deviceClass
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}
