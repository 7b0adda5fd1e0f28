package task

import (
	"context"
	"errors"
	"time"
)

// ErrBrokerClosed Broker 已关闭。
var ErrBrokerClosed = errors.New("broker closed")

// Delivery 一次投递。处理完成后必须 Ack。
type Delivery struct {
	Message JobMessage
	raw     string
}

// Broker 任务消息队列。
type Broker interface {
	Name() string
	// Durable 报告未确认的消息在进程退出后是否会重新投递。
	Durable() bool
	Publish(ctx context.Context, msg JobMessage) error
	// Consume 阻塞等待一条消息，最长等待 wait；超时返回 nil, nil。
	Consume(ctx context.Context, wait time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Recover 将本 worker 上次退出时未确认的消息放回队列，返回数量。
	Recover(ctx context.Context) (int, error)
	Close() error
}

// MemoryBroker 进程内队列，消息在进程退出时丢失。
type MemoryBroker struct {
	queue  chan JobMessage
	closed chan struct{}
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker 创建容量为 size 的内存队列。
func NewMemoryBroker(size int) *MemoryBroker {
	if size <= 0 {
		size = 1024
	}
	return &MemoryBroker{
		queue:  make(chan JobMessage, size),
		closed: make(chan struct{}),
	}
}

func (b *MemoryBroker) Name() string  { return "memory" }
func (b *MemoryBroker) Durable() bool { return false }

func (b *MemoryBroker) Publish(ctx context.Context, msg JobMessage) error {
	select {
	case <-b.closed:
		return ErrBrokerClosed
	default:
	}
	select {
	case b.queue <- msg:
		return nil
	case <-b.closed:
		return ErrBrokerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Consume(ctx context.Context, wait time.Duration) (*Delivery, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case msg := <-b.queue:
		return &Delivery{Message: msg}, nil
	case <-b.closed:
		return nil, ErrBrokerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (b *MemoryBroker) Ack(context.Context, *Delivery) error { return nil }

func (b *MemoryBroker) Recover(context.Context) (int, error) { return 0, nil }

// Len 返回排队中的消息数。
func (b *MemoryBroker) Len() int { return len(b.queue) }

func (b *MemoryBroker) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}
