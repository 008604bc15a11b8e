package captive

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/net/dns/dnsmessage"
)

var portal = [4]byte{192, 168, 4, 1}

func buildQuery(t *testing.T, id uint16, name string, typ dnsmessage.Type) []byte {
	t.Helper()
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: id, RecursionDesired: true})
	if err := b.StartQuestions(); err != nil {
		t.Fatalf("StartQuestions: %v", err)
	}
	err := b.Question(dnsmessage.Question{
		Name:  dnsmessage.MustNewName(name),
		Type:  typ,
		Class: dnsmessage.ClassINET,
	})
	if err != nil {
		t.Fatalf("Question: %v", err)
	}
	msg, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return msg
}

func parseReply(t *testing.T, b []byte) dnsmessage.Message {
	t.Helper()
	var m dnsmessage.Message
	if err := m.Unpack(b); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	return m
}

func TestReplyAQuery(t *testing.T) {
	resp, err := reply(buildQuery(t, 0x1234, "connectivitycheck.gstatic.com.", dnsmessage.TypeA), portal)
	if err != nil {
		t.Fatalf("reply() error: %v", err)
	}
	m := parseReply(t, resp)
	if m.Header.ID != 0x1234 || !m.Header.Response || m.Header.RCode != dnsmessage.RCodeSuccess {
		t.Fatalf("header=%+v", m.Header)
	}
	if len(m.Questions) != 1 || len(m.Answers) != 1 {
		t.Fatalf("questions=%d answers=%d", len(m.Questions), len(m.Answers))
	}
	a, ok := m.Answers[0].Body.(*dnsmessage.AResource)
	if !ok {
		t.Fatalf("answer body=%T", m.Answers[0].Body)
	}
	if a.A != portal {
		t.Fatalf("A=%v want %v", a.A, portal)
	}
	if m.Answers[0].Header.TTL != answerTTL {
		t.Fatalf("ttl=%d", m.Answers[0].Header.TTL)
	}
}

func TestReplyNonAQueryHasNoAnswer(t *testing.T) {
	resp, err := reply(buildQuery(t, 7, "example.com.", dnsmessage.TypeAAAA), portal)
	if err != nil {
		t.Fatalf("reply() error: %v", err)
	}
	m := parseReply(t, resp)
	if m.Header.RCode != dnsmessage.RCodeSuccess || len(m.Answers) != 0 {
		t.Fatalf("rcode=%v answers=%d", m.Header.RCode, len(m.Answers))
	}
}

func TestReplyIgnoresResponsesAndGarbage(t *testing.T) {
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: 1, Response: true})
	msg, _ := b.Finish()
	if resp, err := reply(msg, portal); resp != nil || err != nil {
		t.Fatalf("response packet: resp=%v err=%v", resp, err)
	}
	if _, err := reply([]byte{0x01, 0x02}, portal); err == nil {
		t.Fatalf("expected error for truncated packet")
	}
}

func TestNewRejectsNonIPv4(t *testing.T) {
	if _, err := New(":53", "fe80::1"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestServeAnswersOverUDP(t *testing.T) {
	s, err := New("127.0.0.1:0", "192.168.4.1")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	conn, err := net.Dial("udp4", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(buildQuery(t, 42, "captive.apple.com.", dnsmessage.TypeA)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	m := parseReply(t, buf[:n])
	if m.Header.ID != 42 || len(m.Answers) != 1 {
		t.Fatalf("id=%d answers=%d", m.Header.ID, len(m.Answers))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not stop on cancel")
	}
	if snap := s.Snapshot(); snap.Answered != 1 || snap.IP != "192.168.4.1" {
		t.Fatalf("snapshot=%+v", snap)
	}
}
