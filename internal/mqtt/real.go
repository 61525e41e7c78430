package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 256

const (
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	connectAttempts = 5
	breakerFailures = 3
	breakerTimeout  = 30 * time.Second
)

var errTimeout = errors.New("timeout")

// Config configures a RealPublisher.
type Config struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BootID     string
	BufferSize int
	Logger     *zap.Logger
}

// RealPublisher publishes to an actual MQTT broker. Messages that cannot be
// sent are buffered and replayed, oldest first, after the next connect.
type RealPublisher struct {
	client  paho.Client
	topics  Topics
	bootID  string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	buf      *ringBuffer
	connects int
}

func newPublisher(cfg Config) *RealPublisher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	p := &RealPublisher{
		topics: cfg.Topics,
		bootID: cfg.BootID,
		logger: logger,
		now:    time.Now,
		buf:    newRingBuffer(size),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mqtt-publish",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return p
}

// NewRealPublisher creates a publisher connected to the given broker. The
// initial connect is retried with exponential backoff; later disconnects are
// handled by the client's auto-reconnect.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	p := newPublisher(cfg)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: p.now(),
		Event:     "OFFLINE",
		Reason:    "LWT",
		BootID:    cfg.BootID,
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetWill(cfg.Topics.System, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)
	p.client = paho.NewClient(opts)

	connect := func() error {
		token := p.client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return fmt.Errorf("connect: %w", errTimeout)
		}
		return token.Error()
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("mqtt connect failed, retrying",
			zap.String("broker", cfg.Broker),
			zap.Error(err),
			zap.Duration("wait", wait),
		)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	if err := backoff.RetryNotify(connect, backoff.WithMaxRetries(bo, connectAttempts), notify); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", cfg.Broker, err)
	}

	return p, nil
}

// Publish sends a motion event to the MQTT broker.
func (p *RealPublisher) Publish(event Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.send(bufferedMsg{topic: p.topics.Events, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	return p.send(bufferedMsg{
		topic:    p.topics.System,
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	})
}

// IsConnected reports whether the client currently holds a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker. Buffered messages are discarded.
func (p *RealPublisher) Close() error {
	if n := p.Buffered(); n > 0 {
		p.logger.Warn("discarding buffered messages", zap.Int("count", n))
	}
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

// send publishes msg through the circuit breaker, buffering it when the
// client is offline or the publish fails.
func (p *RealPublisher) send(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.enqueue(msg)
		p.logger.Debug("mqtt offline, message buffered", zap.String("topic", msg.topic))
		return nil
	}

	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.publishNow(msg)
	})
	if err != nil {
		p.enqueue(msg)
		return fmt.Errorf("publish %s (buffered): %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) publishNow(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish: %w", errTimeout)
	}
	return token.Error()
}

func (p *RealPublisher) enqueue(msg bufferedMsg) {
	p.mu.Lock()
	dropped := p.buf.push(msg)
	first := dropped && p.buf.dropped == 1
	p.mu.Unlock()

	if first {
		p.logger.Warn("mqtt buffer full, dropping oldest messages")
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.logger.Warn("mqtt connection lost", zap.Error(err))
}

// onConnect replays buffered messages and, after a reconnect, announces it
// on the system topic. paho runs this on its own goroutine.
func (p *RealPublisher) onConnect(_ paho.Client) {
	p.mu.Lock()
	p.connects++
	reconnect := p.connects > 1
	p.mu.Unlock()

	p.logger.Info("mqtt connected", zap.Bool("reconnect", reconnect))
	if !p.flush() || !reconnect {
		return
	}

	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: p.now(),
		Event:     "RECONNECTED",
		BootID:    p.bootID,
	})
	if err != nil {
		p.logger.Error("format reconnect payload", zap.Error(err))
		return
	}
	msg := bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: true}
	if err := p.publishNow(msg); err != nil {
		p.logger.Warn("publish reconnect event", zap.Error(err))
	}
}

// flush replays the buffer in order. On failure the unsent messages are put
// back ahead of anything buffered meanwhile, and flush reports false.
func (p *RealPublisher) flush() bool {
	p.mu.Lock()
	msgs := p.buf.drainAll()
	p.mu.Unlock()

	if len(msgs) == 0 {
		return true
	}
	p.logger.Info("replaying buffered messages", zap.Int("count", len(msgs)))

	for i, msg := range msgs {
		if err := p.publishNow(msg); err != nil {
			p.logger.Warn("replay failed", zap.Error(err), zap.Int("remaining", len(msgs)-i))
			p.mu.Lock()
			newer := p.buf.drainAll()
			for _, m := range msgs[i:] {
				p.buf.push(m)
			}
			for _, m := range newer {
				p.buf.push(m)
			}
			p.mu.Unlock()
			return false
		}
	}
	return true
}
