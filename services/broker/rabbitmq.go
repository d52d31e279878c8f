package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sahilchouksey/geocoder/config"
	"github.com/sahilchouksey/geocoder/utils/backoff"
)

// ErrUnavailable is returned by Publish while the broker connection is down
var ErrUnavailable = errors.New("broker unavailable")

// Disposition tells the consume loop how to settle a delivery
type Disposition int

const (
	// Ack removes the message from the queue
	Ack Disposition = iota
	// Reject nacks without requeue; the queue's dead-letter exchange routes it to the failed queue
	Reject
	// Requeue nacks and puts the message back on the queue
	Requeue
)

// Handler processes one delivery body
type Handler func(ctx context.Context, body []byte, redelivered bool) Disposition

// Config holds RabbitMQ topology and connection settings
type Config struct {
	URL                string
	Exchange           string
	RequestQueue       string
	RoutingKey         string
	FailedQueue        string
	DeadLetterExchange string
	MessageTTL         time.Duration
	Prefetch           int
	ReconnectInitial   time.Duration
	ReconnectMax       time.Duration
	PublishTimeout     time.Duration
}

// ConfigFrom builds a broker config from the pipeline settings
func ConfigFrom(url string, cfg config.PipelineConfig) Config {
	return Config{
		URL:                url,
		Exchange:           cfg.Broker.Exchange,
		RequestQueue:       cfg.Broker.RequestQueue,
		RoutingKey:         cfg.Broker.RoutingKey,
		FailedQueue:        cfg.Broker.FailedQueue,
		DeadLetterExchange: cfg.Broker.DeadLetterExch,
		MessageTTL:         cfg.Broker.MessageTTL,
		Prefetch:           cfg.Broker.Prefetch,
		ReconnectInitial:   cfg.Broker.ReconnectInitial,
		ReconnectMax:       cfg.Broker.ReconnectMax,
		PublishTimeout:     cfg.Broker.PublishTimeout,
	}
}

// RabbitBroker owns one AMQP connection, re-established in the background with backoff.
// Publish never waits for a reconnect; it fails with ErrUnavailable instead.
type RabbitBroker struct {
	cfg Config

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubCh   *amqp.Channel
	pubLock sync.Mutex

	// sleep waits between reconnect and consume attempts
	sleep backoff.SleepFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRabbitBroker creates a broker client. Call Start to connect.
func NewRabbitBroker(cfg Config) *RabbitBroker {
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &RabbitBroker{cfg: cfg, sleep: backoff.Sleep}
}

// Start makes a first connection attempt and keeps the connection alive until Close
func (b *RabbitBroker) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	notify, err := b.connect()
	if err != nil {
		log.Printf("[BROKER] Initial connection failed, publishing disabled until reconnect: %v", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.maintain(ctx, notify)
	}()
}

// maintain waits for connection loss and reconnects with exponential backoff
func (b *RabbitBroker) maintain(ctx context.Context, notify chan *amqp.Error) {
	attempt := 0
	for {
		if notify != nil {
			select {
			case <-ctx.Done():
				return
			case amqpErr := <-notify:
				log.Printf("[BROKER] Connection lost: %v", amqpErr)
				b.reset()
			}
		}

		attempt++
		if err := b.sleep(ctx, b.retryDelay(attempt)); err != nil {
			return
		}

		var err error
		notify, err = b.connect()
		if err != nil {
			log.Printf("[BROKER] Reconnect attempt %d failed (next in %s): %v", attempt, b.retryDelay(attempt+1), err)
			notify = nil
			continue
		}
		log.Printf("[BROKER] Reconnected after %d attempt(s)", attempt)
		attempt = 0
	}
}

// connect dials, declares topology and opens the confirm-mode publish channel
func (b *RabbitBroker) connect() (chan *amqp.Error, error) {
	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}

	if err := b.declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq confirm mode failed: %w", err)
	}

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))

	b.mu.Lock()
	b.conn = conn
	b.pubCh = ch
	b.mu.Unlock()

	log.Printf("[BROKER] Connected exchange=%s queue=%s failed_queue=%s",
		b.cfg.Exchange, b.cfg.RequestQueue, b.cfg.FailedQueue)
	return notify, nil
}

// declareTopology declares the exchange, request queue and dead-letter path
func (b *RabbitBroker) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(b.cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq exchange declare failed: %w", err)
	}
	if err := ch.ExchangeDeclare(b.cfg.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq dead-letter exchange declare failed: %w", err)
	}

	if _, err := ch.QueueDeclare(b.cfg.FailedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq failed queue declare failed: %w", err)
	}
	if err := ch.QueueBind(b.cfg.FailedQueue, "", b.cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq failed queue bind failed: %w", err)
	}

	if _, err := ch.QueueDeclare(b.cfg.RequestQueue, true, false, false, false, requestQueueArgs(b.cfg)); err != nil {
		return fmt.Errorf("rabbitmq request queue declare failed: %w", err)
	}
	if err := ch.QueueBind(b.cfg.RequestQueue, b.cfg.RoutingKey, b.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq request queue bind failed: %w", err)
	}
	return nil
}

// requestQueueArgs sets message TTL and dead-lettering for geocoding.requests
func requestQueueArgs(cfg Config) amqp.Table {
	args := amqp.Table{
		"x-dead-letter-exchange": cfg.DeadLetterExchange,
	}
	if cfg.MessageTTL > 0 {
		args["x-message-ttl"] = cfg.MessageTTL.Milliseconds()
	}
	return args
}

// reset drops the current connection state
func (b *RabbitBroker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	if b.conn != nil && !b.conn.IsClosed() {
		_ = b.conn.Close()
	}
	b.pubCh = nil
	b.conn = nil
}

// Available reports whether a live connection exists
func (b *RabbitBroker) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil && !b.conn.IsClosed() && b.pubCh != nil && !b.pubCh.IsClosed()
}

// Publish sends a persistent job request and waits for the broker confirm
func (b *RabbitBroker) Publish(ctx context.Context, messageID string, body []byte) error {
	return b.publish(ctx, b.cfg.Exchange, b.cfg.RoutingKey, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// PublishFailed copies a job that exhausted its retries onto the failed queue
func (b *RabbitBroker) PublishFailed(ctx context.Context, messageID string, body []byte, reason string) error {
	return b.publish(ctx, "", b.cfg.FailedQueue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"x-failure-reason": reason},
		Body:         body,
	})
}

func (b *RabbitBroker) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	b.mu.RLock()
	ch := b.pubCh
	b.mu.RUnlock()
	if ch == nil || ch.IsClosed() {
		return ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	b.pubLock.Lock()
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	b.pubLock.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: confirm wait: %v", ErrUnavailable, err)
	}
	if !acked {
		return fmt.Errorf("%w: message %s nacked by broker", ErrUnavailable, msg.MessageId)
	}
	return nil
}

// Consume runs consume sessions on the request queue until ctx is cancelled,
// reopening the channel whenever the connection drops
func (b *RabbitBroker) Consume(ctx context.Context, consumerTag string, handler Handler) error {
	return b.runSessions(ctx, func(ctx context.Context) (bool, error) {
		return b.consumeSession(ctx, consumerTag, handler)
	})
}

// runSessions reruns session with backoff until ctx is done.
// The schedule restarts after any session that reached the consuming state.
func (b *RabbitBroker) runSessions(ctx context.Context, session func(ctx context.Context) (started bool, err error)) error {
	attempt := 0
	for {
		started, err := session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			attempt = 0
		}

		attempt++
		delay := b.retryDelay(attempt)
		log.Printf("[BROKER] Consume session ended err=%v; retrying in %s", err, delay)
		if err := b.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (b *RabbitBroker) retryDelay(attempt int) time.Duration {
	return backoff.Exponential(b.cfg.ReconnectInitial, b.cfg.ReconnectMax, attempt)
}

// consumeSession reports started once ch.Consume succeeded
func (b *RabbitBroker) consumeSession(ctx context.Context, consumerTag string, handler Handler) (bool, error) {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return false, ErrUnavailable
	}

	ch, err := conn.Channel()
	if err != nil {
		return false, fmt.Errorf("rabbitmq consume channel open failed: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return false, fmt.Errorf("rabbitmq qos setup failed: %w", err)
	}

	deliveries, err := ch.Consume(b.cfg.RequestQueue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("rabbitmq consume setup failed: %w", err)
	}

	log.Printf("[BROKER] Consuming queue=%s tag=%s", b.cfg.RequestQueue, consumerTag)
	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(consumerTag, false); err != nil {
				log.Printf("[BROKER] Consumer cancel failed: %v", err)
			}
			return true, nil
		case d, ok := <-deliveries:
			if !ok {
				return true, errors.New("rabbitmq deliveries channel closed unexpectedly")
			}

			switch handler(ctx, d.Body, d.Redelivered) {
			case Ack:
				if err := d.Ack(false); err != nil {
					log.Printf("[BROKER] Ack failed delivery_tag=%d err=%v", d.DeliveryTag, err)
				}
			case Requeue:
				if err := d.Nack(false, true); err != nil {
					log.Printf("[BROKER] Nack(requeue) failed delivery_tag=%d err=%v", d.DeliveryTag, err)
				}
			default:
				if err := d.Nack(false, false); err != nil {
					log.Printf("[BROKER] Nack failed delivery_tag=%d err=%v", d.DeliveryTag, err)
				}
			}
		}
	}
}

// FailedQueueDepth returns the number of messages waiting in the failed queue
func (b *RabbitBroker) FailedQueueDepth(ctx context.Context) (int, error) {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return 0, ErrUnavailable
	}

	ch, err := conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(b.cfg.FailedQueue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed queue inspect failed: %w", err)
	}
	return q.Messages, nil
}

// Close stops the reconnect loop and closes the connection
func (b *RabbitBroker) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.reset()
	log.Println("[BROKER] Closed")
	return nil
}
