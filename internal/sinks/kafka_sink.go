package sinks

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"tracepipe/pkg/types"
)

// KafkaOutput publishes each entry's payload as a Kafka message,
// keyed by its tag, to a configured topic. Adapted from the teacher's
// kafka_sink.go with the batching/DLQ/circuit-breaker machinery
// stripped out — a trace context's delivery loop already batches and
// already treats delivery failure as fire-and-forget (spec.md §7:
// data-path errors are absorbed, never retried against persisted
// state, since envelopes are not persisted).
type KafkaOutput struct {
	propertyBag
	logger   *logrus.Logger
	producer sarama.SyncProducer
	mutex    sync.Mutex
}

// NewKafkaOutput returns a KafkaOutput. Configuration is supplied via
// SetProperty before Start: "brokers" (comma-separated), "topic",
// and optionally "sasl_user"/"sasl_password" for SCRAM-SHA-256 auth
// and "tls_enabled".
func NewKafkaOutput(logger *logrus.Logger) *KafkaOutput {
	return &KafkaOutput{propertyBag: newPropertyBag(), logger: logger}
}

func (k *KafkaOutput) Start(ctx context.Context) error {
	brokersProp := k.props["brokers"]
	if brokersProp == "" {
		return fmt.Errorf("kafka output: no brokers configured")
	}
	if k.props["topic"] == "" {
		return fmt.Errorf("kafka output: no topic configured")
	}
	brokers := strings.Split(brokersProp, ",")

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	if k.props["tls_enabled"] == "true" {
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{InsecureSkipVerify: k.props["tls_insecure_skip_verify"] == "true"}
	}

	if user := k.props["sasl_user"]; user != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		cfg.Net.SASL.User = user
		cfg.Net.SASL.Password = k.props["sasl_password"]
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &xdgSCRAMClient{HashGeneratorFcn: scramSHA256}
		}
	}

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("kafka output: creating producer: %w", err)
	}

	k.mutex.Lock()
	k.producer = producer
	k.mutex.Unlock()

	k.logger.WithFields(logrus.Fields{"brokers": brokers, "topic": k.props["topic"]}).Info("kafka output started")
	return nil
}

func (k *KafkaOutput) Send(ctx context.Context, entries []types.LogEntry) error {
	k.mutex.Lock()
	producer := k.producer
	topic := k.props["topic"]
	k.mutex.Unlock()

	if producer == nil {
		return fmt.Errorf("kafka output: not started")
	}

	for _, entry := range entries {
		msg := &sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(entry.Tag),
			Value: sarama.ByteEncoder(entry.Payload),
		}
		if _, _, err := producer.SendMessage(msg); err != nil {
			return fmt.Errorf("kafka output: sending message: %w", err)
		}
	}
	return nil
}

func (k *KafkaOutput) Stop() error {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	if k.producer == nil {
		return nil
	}
	err := k.producer.Close()
	k.producer = nil
	return err
}
