package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

// KafkaConfig параметры подключения к Kafka
type KafkaConfig struct {
	BootstrapServers string
	Topic            string
	GroupID          string
}

// KafkaProducer публикует задачи в топик. Ключ сообщения это идентификатор
// эксперимента, поэтому задачи одного эксперимента попадают в одну партицию.
type KafkaProducer struct {
	producer *kafka.Producer
	topic    string
	logger   *logrus.Logger
}

// NewKafkaProducer создает продюсер
func NewKafkaProducer(cfg KafkaConfig, logger *logrus.Logger) (*KafkaProducer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"acks":               "all",
		"enable.idempotence": true,
		"linger.ms":          5,
		"request.timeout.ms": 30000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	logger.Infof("Kafka продюсер инициализирован, топик %s, серверы %s", cfg.Topic, cfg.BootstrapServers)
	return &KafkaProducer{producer: p, topic: cfg.Topic, logger: logger}, nil
}

// Enqueue публикует задачу и ждет подтверждения доставки
func (kp *KafkaProducer) Enqueue(ctx context.Context, task Task) error {
	msg, err := buildMessage(kp.topic, task)
	if err != nil {
		return err
	}

	delivery := make(chan kafka.Event, 1)
	if err := kp.producer.Produce(msg, delivery); err != nil {
		return fmt.Errorf("failed to produce task %s: %w", task.ID, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("failed to deliver task %s: %w", task.ID, m.TopicPartition.Error)
		}
		kp.logger.Debugf("Задача %s доставлена, партиция %d, смещение %v", task.ID, m.TopicPartition.Partition, m.TopicPartition.Offset)
		return nil
	}
}

// Close дожидается отправки буфера и закрывает продюсер
func (kp *KafkaProducer) Close() error {
	remaining := kp.producer.Flush(10000)
	if remaining > 0 {
		kp.logger.Warnf("При закрытии не отправлено сообщений: %d", remaining)
	}
	kp.producer.Close()
	return nil
}

func buildMessage(topic string, task Task) (*kafka.Message, error) {
	payload, err := task.Encode()
	if err != nil {
		return nil, err
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(task.ExperimentID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "task_id", Value: []byte(task.ID.String())},
			{Key: "username", Value: []byte(task.Username)},
		},
	}, nil
}

// consumerClient часть *kafka.Consumer, которой пользуется KafkaConsumer
type consumerClient interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Close() error
}

// KafkaConsumer читает задачи из топика. Смещение фиксируется только после
// успешного выполнения обработчика. При ошибке обработчика или остановке
// Run завершается без фиксации, и задача будет доставлена повторно.
type KafkaConsumer struct {
	consumer consumerClient
	topic    string
	logger   *logrus.Logger
}

// NewKafkaConsumer создает консюмер группы
func NewKafkaConsumer(cfg KafkaConfig, logger *logrus.Logger) (*KafkaConsumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	return &KafkaConsumer{consumer: c, topic: cfg.Topic, logger: logger}, nil
}

// Run обрабатывает задачи, пока не отменен ctx. Возвращает ошибку
// обработчика, если задача не выполнена и ctx не отменен.
func (kc *KafkaConsumer) Run(ctx context.Context, handler Handler) error {
	if err := kc.consumer.SubscribeTopics([]string{kc.topic}, nil); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", kc.topic, err)
	}
	kc.logger.Infof("Подписка на топик %s", kc.topic)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		msg, err := kc.consumer.ReadMessage(500 * time.Millisecond)
		if err != nil {
			if kerr, ok := err.(kafka.Error); ok && kerr.IsTimeout() {
				continue
			}
			kc.logger.Errorf("Ошибка чтения из Kafka: %v", err)
			continue
		}

		task, err := DecodeTask(msg.Value)
		if err != nil {
			// битое сообщение не повторяем
			kc.logger.Errorf("Пропуск сообщения %v: %v", msg.TopicPartition, err)
			kc.commit(msg)
			continue
		}

		if err := handler(ctx, task); err != nil {
			if ctx.Err() != nil {
				kc.logger.Warnf("Задача %s прервана остановкой, смещение не зафиксировано", task.ID)
				return nil
			}
			kc.logger.Errorf("Ошибка выполнения задачи %s, смещение не зафиксировано: %v", task.ID, err)
			return fmt.Errorf("task %s at %v: %w", task.ID, msg.TopicPartition, err)
		}
		kc.commit(msg)
	}
}

func (kc *KafkaConsumer) commit(msg *kafka.Message) {
	if _, err := kc.consumer.CommitMessage(msg); err != nil {
		kc.logger.Warnf("Не удалось зафиксировать смещение %v: %v", msg.TopicPartition, err)
	}
}

// Close закрывает консюмер
func (kc *KafkaConsumer) Close() error {
	return kc.consumer.Close()
}
