// internal/queue/stream.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Slade66/resumable-fetcher/pkg/task"
	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// Producer 把下载请求投递到 Redis Stream
type Producer struct {
	rdb    *redis.Client
	stream string
}

func NewProducer(rdb *redis.Client, stream string) *Producer {
	return &Producer{rdb: rdb, stream: stream}
}

// Enqueue 投递一个下载请求，返回消息 ID
func (p *Producer) Enqueue(ctx context.Context, t *task.DownloadTask) (string, error) {
	payload, err := t.Encode()
	if err != nil {
		return "", err
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{payloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("无法将任务发布到 Redis: %w", err)
	}
	return id, nil
}

// Handler 处理一个下载请求，返回 nil 时消息会被 ACK
type Handler func(ctx context.Context, t *task.DownloadTask) error

// Consumer 以消费者组的方式读取下载请求
type Consumer struct {
	rdb    *redis.Client
	stream string
	group  string
	name   string

	// Block 是每次读取的最长等待时间，负数表示不阻塞
	Block time.Duration
	// RetryDelay 是读取失败后的等待时间
	RetryDelay time.Duration
}

func NewConsumer(rdb *redis.Client, stream, group, name string) *Consumer {
	return &Consumer{
		rdb:        rdb,
		stream:     stream,
		group:      group,
		name:       name,
		Block:      5 * time.Second,
		RetryDelay: 5 * time.Second,
	}
}

// EnsureGroup 确保消费者组存在，如果不存在则创建
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			log.Printf("消费者组 '%s' 已存在，无需创建。", c.group)
			return nil
		}
		return fmt.Errorf("无法创建消费者组: %w", err)
	}
	log.Printf("成功创建消费者组 '%s' 并关联到 Stream '%s'。", c.group, c.stream)
	return nil
}

// ReadOnce 读取一批新消息并交给 handler，返回处理的消息数
func (c *Consumer) ReadOnce(ctx context.Context, handle Handler) (int, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"}, // ">" 表示只接收从未被消费过的新消息
		Count:    10,
		Block:    c.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("从 Redis Stream 读取任务失败: %w", err)
	}

	n := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			n++
			c.handle(ctx, msg, handle)
		}
	}
	return n, nil
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage, handle Handler) {
	payload, _ := msg.Values[payloadField].(string)
	t, err := task.Decode(payload)
	if err != nil {
		// 解析失败的消息直接 ACK 并跳过，防止阻塞队列
		log.Printf("‼️ %v。Payload: %s", err, payload)
		c.ack(ctx, msg.ID)
		return
	}

	log.Printf("👍 接收到新任务: [ID: %s]", t.ID)
	if err := handle(ctx, t); err != nil {
		// 失败的任务不 ACK，以便后续重试或手动处理
		log.Printf("🔥 任务处理失败: [ID: %s], 错误: %v", t.ID, err)
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		log.Printf("‼️ 关键错误: 无法 ACK 任务 %s: %v", id, err)
	}
}

// Run 持续读取消息直到 ctx 结束
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	log.Printf("▶️ Worker '%s' 开始监听任务...", c.name)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := c.ReadOnce(ctx, handle); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("❌ %v。%s后重试...", err, c.RetryDelay)
			select {
			case <-time.After(c.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
