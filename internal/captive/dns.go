// Package captive answers every DNS A query with the portal address so that
// phones joining the access point open the lap timer page.
package captive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/dns/dnsmessage"
)

const answerTTL = 60

type Snapshot struct {
	Listen   string `json:"listen"`
	IP       string `json:"ip"`
	Answered uint64 `json:"answered"`
	Dropped  uint64 `json:"dropped"`
}

type Server struct {
	listen string
	ip     [4]byte

	mu   sync.Mutex
	conn net.PacketConn

	answered uint64
	dropped  uint64
}

// New validates the portal IP. The socket is bound by Listen.
func New(listen, portalIP string) (*Server, error) {
	ip := net.ParseIP(portalIP).To4()
	if ip == nil {
		return nil, fmt.Errorf("captive: portal ip %q is not IPv4", portalIP)
	}
	s := &Server{listen: listen}
	copy(s.ip[:], ip)
	return s, nil
}

func (s *Server) Listen() error {
	conn, err := net.ListenPacket("udp4", s.listen)
	if err != nil {
		return fmt.Errorf("captive: listen %s: %w", s.listen, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve answers queries until ctx is done. It calls Listen if needed.
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	log.Printf("captive dns listening addr=%s ip=%s", conn.LocalAddr(), net.IP(s.ip[:]))

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	buf := make([]byte, 512)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		resp, err := reply(buf[:n], s.ip)
		if err != nil || resp == nil {
			atomic.AddUint64(&s.dropped, 1)
			continue
		}
		if _, err := conn.WriteTo(resp, peer); err != nil {
			atomic.AddUint64(&s.dropped, 1)
			continue
		}
		atomic.AddUint64(&s.answered, 1)
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Server) Snapshot() Snapshot {
	return Snapshot{
		Listen:   s.listen,
		IP:       net.IP(s.ip[:]).String(),
		Answered: atomic.LoadUint64(&s.answered),
		Dropped:  atomic.LoadUint64(&s.dropped),
	}
}

// reply builds the response to one query packet. It returns nil for packets
// that are not queries. A questions get the portal address; every other
// type gets an empty NOERROR answer.
func reply(req []byte, ip [4]byte) ([]byte, error) {
	var p dnsmessage.Parser
	h, err := p.Start(req)
	if err != nil {
		return nil, err
	}
	if h.Response {
		return nil, nil
	}
	qs, err := p.AllQuestions()
	if err != nil {
		return nil, err
	}

	rh := dnsmessage.Header{
		ID:               h.ID,
		Response:         true,
		OpCode:           h.OpCode,
		Authoritative:    true,
		RecursionDesired: h.RecursionDesired,
		RCode:            dnsmessage.RCodeSuccess,
	}
	if h.OpCode != 0 {
		rh.RCode = dnsmessage.RCodeNotImplemented
	} else if len(qs) == 0 {
		rh.RCode = dnsmessage.RCodeFormatError
	}

	b := dnsmessage.NewBuilder(make([]byte, 0, 512), rh)
	b.EnableCompression()
	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	for _, q := range qs {
		if err := b.Question(q); err != nil {
			return nil, err
		}
	}
	if err := b.StartAnswers(); err != nil {
		return nil, err
	}
	if rh.RCode == dnsmessage.RCodeSuccess {
		for _, q := range qs {
			if q.Type != dnsmessage.TypeA || q.Class != dnsmessage.ClassINET {
				continue
			}
			err := b.AResource(dnsmessage.ResourceHeader{
				Name:  q.Name,
				Type:  dnsmessage.TypeA,
				Class: dnsmessage.ClassINET,
				TTL:   answerTTL,
			}, dnsmessage.AResource{A: ip})
			if err != nil {
				return nil, err
			}
		}
	}
	return b.Finish()
}
