package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"saldo/internal/core"
	"saldo/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	prefetchCount  = 10

	backgroundReconnectAttempts = 5
)

var (
	errMalformed    = errors.New("malformed message")
	errClientClosed = errors.New("amqp client closed")
)

// Handler receives decoded messages from the queue.
type Handler interface {
	HandleLedgerEvent(ctx context.Context, e core.LedgerEvent) error
	HandleReconcile(ctx context.Context, r core.ReconcileRequest) error
}

// Client publishes ledger events and reconcile requests to a direct exchange
// and consumes them from a single durable queue. Publishing goes through a
// circuit breaker and never waits for a reconnect: a publish without an open
// channel fails at once and redialing continues in the background.
type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	closed  bool

	reconnecting atomic.Bool

	failureCount int64
	state        int32
	failMu       sync.Mutex
	lastFailure  time.Time
}

// NewClient dials the broker and declares the exchange, queue and binding.
func NewClient(url, exchangeName, queueName string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialLocked()
}

// redial dials unless another caller already restored the channel.
func (c *Client) redial() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return backoff.Permanent(errClientClosed)
	}
	if c.channel != nil && !c.channel.IsClosed() {
		return nil
	}
	return c.dialLocked()
}

func (c *Client) dialLocked() error {
	c.closeLocked()

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

func (c *Client) setup(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// routing key is the queue name on a direct exchange
	if err := ch.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// reconnect redials with exponential backoff. maxRetries of zero retries
// until ctx is done.
func (c *Client) reconnect(ctx context.Context, maxRetries uint64) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if maxRetries > 0 {
		policy = backoff.WithMaxRetries(b, maxRetries)
	}

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.redial()
		if err != nil {
			c.logger.WarnContext(ctx, "AMQP reconnect failed", log.FieldAttempt, attempt, log.FieldError, err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}

// reconnectInBackground starts at most one redial loop at a time.
func (c *Client) reconnectInBackground() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.reconnecting.Store(false)
		if err := c.reconnect(context.Background(), backgroundReconnectAttempts); err != nil {
			c.logger.Warn("AMQP background reconnect gave up", log.FieldError, err)
		}
	}()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil
	}
	return c.channel
}

// PublishLedgerEvent announces a committed ledger mutation.
func (c *Client) PublishLedgerEvent(ctx context.Context, e core.LedgerEvent) error {
	body, err := NewLedgerEventMessage(e).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, TypeLedgerEvent, body); err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "Published ledger event",
		log.FieldEventType, string(e.Type), log.FieldTransactionID, e.TransactionID)
	return nil
}

// PublishReconcileRequest asks the worker to rebuild covering budgets.
func (c *Client) PublishReconcileRequest(ctx context.Context, r core.ReconcileRequest) error {
	body, err := NewReconcileMessage(r).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, TypeReconcile, body); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "Published reconcile request",
		log.FieldUserID, r.UserID, log.FieldCategoryID, r.CategoryID, log.FieldDate, r.Date.String())
	return nil
}

func (c *Client) publish(ctx context.Context, msgType string, body []byte) error {
	if c.isClosed() {
		return errClientClosed
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open: dropping %s message", msgType)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.currentChannel()
	if ch == nil {
		c.recordFailure()
		c.reconnectInBackground()
		return fmt.Errorf("no open channel: dropping %s message", msgType)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Type:         msgType,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.mu.Lock()
			c.closeLocked()
			c.mu.Unlock()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()
	return nil
}

// Consume delivers queued messages to h until ctx is done, reconnecting
// whenever the broker drops the channel.
func (c *Client) Consume(ctx context.Context, h Handler) error {
	for {
		msgs, err := c.startConsuming()
		if err != nil {
			c.logger.WarnContext(ctx, "Failed to start consuming", log.FieldError, err)
			if err := c.reconnect(ctx, 0); err != nil {
				return err
			}
			continue
		}

		c.logger.InfoContext(ctx, "Started consuming", "queue", c.queueName)
		if err := c.drain(ctx, h, msgs); err != nil {
			return err
		}

		c.logger.WarnContext(ctx, "Delivery channel closed, reconnecting", "queue", c.queueName)
		if err := c.reconnect(ctx, 0); err != nil {
			return err
		}
	}
}

func (c *Client) startConsuming() (<-chan amqp091.Delivery, error) {
	ch := c.currentChannel()
	if ch == nil {
		return nil, fmt.Errorf("no open channel")
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("start consuming: %w", err)
	}
	return msgs, nil
}

// drain returns nil when the delivery channel closes and ctx.Err() when the
// consumer is stopped.
func (c *Client) drain(ctx context.Context, h Handler, msgs <-chan amqp091.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.dispatch(ctx, h, d)
		}
	}
}

// dispatch hands one delivery to h and settles it. Malformed messages and
// domain rejections are dropped; other failures are requeued once.
func (c *Client) dispatch(ctx context.Context, h Handler, d amqp091.Delivery) {
	err := c.handle(ctx, h, d)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.ErrorContext(ctx, "Failed to ack message", log.FieldError, ackErr)
		}
	case errors.Is(err, errMalformed), core.IsDomain(err) && !errors.Is(err, core.ErrConflict):
		c.logger.ErrorContext(ctx, "Dropping message", "type", d.Type, "message_id", d.MessageId, log.FieldError, err)
		d.Nack(false, false)
	default:
		requeue := !d.Redelivered
		c.logger.ErrorContext(ctx, "Failed to handle message",
			"type", d.Type, "message_id", d.MessageId, "requeue", requeue, log.FieldError, err)
		d.Nack(false, requeue)
	}
}

func (c *Client) handle(ctx context.Context, h Handler, d amqp091.Delivery) error {
	switch d.Type {
	case TypeLedgerEvent:
		msg, err := LedgerEventMessageFromJSON(d.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		return h.HandleLedgerEvent(ctx, msg.LedgerEvent())
	case TypeReconcile:
		msg, err := ReconcileMessageFromJSON(d.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		req, err := msg.ReconcileRequest()
		if err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		return h.HandleReconcile(ctx, req)
	default:
		return fmt.Errorf("%w: unknown type %q", errMalformed, d.Type)
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.failMu.Lock()
	since := time.Since(c.lastFailure)
	c.failMu.Unlock()
	if since > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.failMu.Lock()
	c.lastFailure = time.Now()
	c.failMu.Unlock()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection", "EOF", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close releases the channel and connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeLocked()
	return nil
}
