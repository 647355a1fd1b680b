package notifier

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"medtrack-compliance/internal/config"
	"medtrack-compliance/internal/models"
)

// Alert the payload published for a high-confidence non-compliance event,
// consumed by the caregiver notification service.
type Alert struct {
	RecordID      string    `json:"record_id"`
	IntakeEventID string    `json:"intake_event_id"`
	PatientID     string    `json:"patient_id"`
	Verdict       string    `json:"verdict"`
	Confidence    float64   `json:"confidence"`
	ScheduledTime time.Time `json:"scheduled_time"`
	ActualTime    time.Time `json:"actual_time"`
	Action        string    `json:"action"`
	CreatedAt     time.Time `json:"created_at"`
}

// MQTTNotifier publishes non-compliance alerts to an MQTT topic. Publish
// failures are logged and dropped: alerting is best-effort and must never
// stall the classification pipeline.
type MQTTNotifier struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

// NewMQTTNotifier connects to the broker. Returns an error if the broker is
// unreachable at startup; callers treat the notifier as optional.
func NewMQTTNotifier(cfg *config.MQTTConfig, logger *zap.Logger) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("MQTT notifier connected",
		zap.String("broker", cfg.Broker),
		zap.String("topic", cfg.Topic),
	)

	return &MQTTNotifier{
		client: client,
		topic:  cfg.Topic,
		logger: logger,
	}, nil
}

// NotifyNonCompliance publishes an alert for the record. Fire-and-forget.
func (n *MQTTNotifier) NotifyNonCompliance(record *models.ComplianceRecord) {
	alert := Alert{
		RecordID:      record.RecordID,
		IntakeEventID: record.IntakeEventID,
		PatientID:     record.PatientID,
		Verdict:       record.Verdict,
		Confidence:    record.Confidence,
		ScheduledTime: record.ScheduledTime,
		ActualTime:    record.ActualTime,
		Action:        record.Action,
		CreatedAt:     record.CreatedAt,
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		n.logger.Error("Failed to marshal compliance alert", zap.Error(err))
		return
	}

	token := n.client.Publish(n.topic, 1, false, payload)
	go func() {
		token.Wait()
		if token.Error() != nil {
			n.logger.Error("Failed to publish compliance alert",
				zap.String("patient_id", record.PatientID),
				zap.Error(token.Error()),
			)
			return
		}
		n.logger.Info("Non-compliance alert published",
			zap.String("patient_id", record.PatientID),
			zap.String("intake_event_id", record.IntakeEventID),
			zap.Float64("confidence", record.Confidence),
		)
	}()
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}
