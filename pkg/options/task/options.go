// Package task provides task queue and worker configuration options.
package task

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 任务编排配置。
type Options struct {
	// Broker 任务队列传输（memory, redis）。
	Broker string `json:"broker" mapstructure:"broker"`

	// Backend 任务状态存储（memory, redis, sql）。
	Backend string `json:"backend" mapstructure:"backend"`

	// Concurrency 单个 worker 进程并发执行的任务数。
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`

	// Timeout 单个任务的执行时间上限。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// TimeoutGrace 超时后等待任务体退出的时间，期间不释放并发槽位。
	TimeoutGrace time.Duration `json:"timeout-grace" mapstructure:"timeout-grace"`

	// ResultExpiry 终态任务记录的保留时间。
	ResultExpiry time.Duration `json:"result-expiry" mapstructure:"result-expiry"`

	// Queue 队列名称。
	Queue string `json:"queue" mapstructure:"queue"`

	// KeyPrefix Redis 键前缀。
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	// WorkerID 标识 worker 进程，用于恢复其未确认的任务。
	WorkerID string `json:"worker-id" mapstructure:"worker-id"`

	// PollInterval 阻塞出队的最长等待时间。
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`
}

// NewOptions 创建默认任务配置。
func NewOptions() *Options {
	return &Options{
		Broker:       "memory",
		Backend:      "memory",
		Concurrency:  4,
		Timeout:      300 * time.Second,
		TimeoutGrace: 10 * time.Second,
		ResultExpiry: time.Hour,
		Queue:        "rag_tasks",
		KeyPrefix:    "rag:task:",
		PollInterval: time.Second,
	}
}

// AddFlags adds flags for task options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "task."
	fs.StringVar(&o.Broker, p+"broker", o.Broker, "Task queue broker (memory, redis).")
	fs.StringVar(&o.Backend, p+"backend", o.Backend, "Task state backend (memory, redis, sql).")
	fs.IntVar(&o.Concurrency, p+"concurrency", o.Concurrency, "Number of tasks a worker executes concurrently.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Wall-clock limit for a single task.")
	fs.DurationVar(&o.TimeoutGrace, p+"timeout-grace", o.TimeoutGrace, "How long a timed-out task keeps its worker slot while it winds down.")
	fs.DurationVar(&o.ResultExpiry, p+"result-expiry", o.ResultExpiry, "How long task records are kept.")
	fs.StringVar(&o.Queue, p+"queue", o.Queue, "Queue name.")
	fs.StringVar(&o.KeyPrefix, p+"key-prefix", o.KeyPrefix, "Redis key prefix for task data.")
	fs.StringVar(&o.WorkerID, p+"worker-id", o.WorkerID, "Stable worker identity (defaults to the hostname).")
	fs.DurationVar(&o.PollInterval, p+"poll-interval", o.PollInterval, "Maximum blocking dequeue wait.")
}

// Validate validates the task options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if !options.OneOf(o.Broker, "memory", "redis") {
		errs = append(errs, fmt.Errorf("task.broker must be memory or redis, got %q", o.Broker))
	}
	if !options.OneOf(o.Backend, "memory", "redis", "sql") {
		errs = append(errs, fmt.Errorf("task.backend must be memory, redis or sql, got %q", o.Backend))
	}
	if o.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("task.concurrency must be positive"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("task.timeout must be positive"))
	}
	if o.TimeoutGrace < 0 {
		errs = append(errs, fmt.Errorf("task.timeout-grace must not be negative"))
	}
	if o.Queue == "" {
		errs = append(errs, fmt.Errorf("task.queue is required"))
	}
	return errs
}

// Complete completes the task options with defaults.
func (o *Options) Complete() error {
	if o.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		o.WorkerID = host
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ResultExpiry < 0 {
		o.ResultExpiry = 0
	}
	return nil
}
