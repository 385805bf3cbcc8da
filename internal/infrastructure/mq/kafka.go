package mq

import (
	"fmt"

	"genpix/internal/config"

	"github.com/IBM/sarama"
)

// Producer Kafka 同步生产者封装
type Producer struct {
	producer sarama.SyncProducer
}

// NewConfig 生产者配置：等待所有副本确认，保证消息不丢
func NewConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	return kafkaConfig
}

func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewConfig())
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	return NewProducerFrom(producer), nil
}

// NewProducerFrom 包装已有的 SyncProducer（测试中传入 mocks.SyncProducer）
func NewProducerFrom(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// Send 发送消息，key 相同的消息落在同一分区；账本事件的 key 是用户 id
func (p *Producer) Send(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *Producer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
