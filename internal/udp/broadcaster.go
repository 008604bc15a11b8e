// Package udp sends lap results as JSON datagrams, one event per packet.
package udp

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync/atomic"

	"laptimer/internal/laptimer"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Broadcaster is a laptimer.Sink. A failed write is counted and logged; it
// never stops the timer.
type Broadcaster struct {
	dest string
	conn udpConn

	sent   uint64
	errors uint64
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

// Send writes one datagram. Empty payloads are skipped.
func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

// Publish implements laptimer.Sink.
func (b *Broadcaster) Publish(ev laptimer.Event) {
	payload, err := json.Marshal(ev.Record())
	if err != nil {
		return
	}
	if err := b.Send(payload); err != nil {
		// Log the first failure and then every 100th to keep a dead peer quiet.
		if n := atomic.AddUint64(&b.errors, 1); n == 1 || n%100 == 0 {
			log.Printf("udp send failed dest=%s errors=%d err=%v", b.dest, n, err)
		}
		return
	}
	atomic.AddUint64(&b.sent, 1)
}

// Stats reports datagrams sent and write failures.
func (b *Broadcaster) Stats() (sent, failed uint64) {
	return atomic.LoadUint64(&b.sent), atomic.LoadUint64(&b.errors)
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
