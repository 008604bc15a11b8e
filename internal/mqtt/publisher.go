// Package mqtt publishes lap events to an MQTT broker.
//
// Every event goes to <topic>/events. Completed laps are also published
// retained to <topic>/last so a dashboard that subscribes late still sees the
// most recent lap time.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"laptimer/internal/laptimer"
)

const (
	queueSize    = 64
	publishWait  = 5 * time.Second
	quiesceMilli = 250
)

type Config struct {
	Broker   string
	ClientID string
	Topic    string
}

// client is the subset of paho.Client the publisher needs.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// Publisher is a laptimer.Sink. paho can block while it reconnects, so
// messages go through a bounded queue drained by one goroutine; when the
// queue is full the message is dropped and counted.
type Publisher struct {
	c     client
	topic string

	mu     sync.RWMutex
	closed bool
	q      chan message
	done   chan struct{}

	sent    uint64
	dropped uint64
	failed  uint64
}

// New connects to the broker. The client reconnects on its own after the
// first connection succeeds.
func New(cfg Config) (*Publisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt connection lost broker=%s err=%v", cfg.Broker, err)
		})

	c := paho.NewClient(opts)
	token := c.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	p := newPublisher(c, cfg.Topic)
	log.Printf("mqtt connected broker=%s topic=%s", cfg.Broker, p.topic)
	return p, nil
}

func newPublisher(c client, topic string) *Publisher {
	topic = strings.Trim(strings.TrimSpace(topic), "/")
	if topic == "" {
		topic = "laptimer"
	}
	p := &Publisher{
		c:     c,
		topic: topic,
		q:     make(chan message, queueSize),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.done)
	for m := range p.q {
		t := p.c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !t.WaitTimeout(publishWait) || t.Error() != nil {
			if n := atomic.AddUint64(&p.failed, 1); n == 1 || n%100 == 0 {
				log.Printf("mqtt publish failed topic=%s failed=%d err=%v", m.topic, n, t.Error())
			}
			continue
		}
		atomic.AddUint64(&p.sent, 1)
	}
}

// Publish implements laptimer.Sink.
func (p *Publisher) Publish(ev laptimer.Event) {
	payload, err := json.Marshal(ev.Record())
	if err != nil {
		return
	}
	p.enqueue(message{topic: p.topic + "/events", payload: payload})
	if ev.Kind == laptimer.LapCompleted {
		p.enqueue(message{topic: p.topic + "/last", qos: 1, retained: true, payload: payload})
	}
}

func (p *Publisher) enqueue(m message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.q <- m:
	default:
		atomic.AddUint64(&p.dropped, 1)
	}
}

// Stats reports delivered, dropped (queue full) and failed publishes.
func (p *Publisher) Stats() (sent, dropped, failed uint64) {
	return atomic.LoadUint64(&p.sent), atomic.LoadUint64(&p.dropped), atomic.LoadUint64(&p.failed)
}

// Close flushes queued messages and disconnects.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.q)
	p.mu.Unlock()

	<-p.done
	p.c.Disconnect(quiesceMilli)
}
