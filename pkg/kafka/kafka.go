// Package kafka 提供了评估任务队列的生产者与消费者。
package kafka

import (
	"context"
	"encoding/json"

	"diagnosify-go/internal/config"
	"diagnosify-go/pkg/log"
	"diagnosify-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process an evaluation task.
// This decouples the Kafka consumer from the concrete evaluation implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.EvaluationTask) error
}

// Producer 向评估主题发送任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: writer}
}

// Publish 发送一个评估任务到 Kafka。
func (p *Producer) Publish(task tasks.EvaluationTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(context.Background(),
		kafka.Message{
			Value: taskBytes,
		},
	)
}

// StartConsumer 启动一个 Kafka 消费者来处理评估任务。
// 评估属于非关键路径：任何处理失败都记录日志并提交 offset，
// 绝不因单条任务失败阻塞队列。
func StartConsumer(cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  "diagnosify-evaluation-consumer",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		log.Infof("收到评估任务消息: offset %d", m.Offset)

		var task tasks.EvaluationTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析评估任务消息: %v, value: %s", err, string(m.Value))
		} else if err := processor.Process(context.Background(), task); err != nil {
			log.Errorf("处理评估任务失败, user_id: %s, error: %v", task.UserID, err)
		}

		if err := r.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("关闭 Kafka 消费者失败: %v", err)
	}
}
