package providers

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief-service/internal/logging"
)

// smtpStub speaks just enough SMTP for net/smtp.SendMail.
type smtpStub struct {
	ln net.Listener

	mu       sync.Mutex
	rejects  int
	sessions int
	authed   bool
	from     string
	rcpts    []string
	data     string
}

func newSMTPStub(t *testing.T, rejects int) *smtpStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &smtpStub{ln: ln, rejects: rejects}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *smtpStub) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *smtpStub) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.handle(conn)
	}
}

func (s *smtpStub) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	s.mu.Lock()
	s.sessions++
	reject := s.rejects > 0
	if reject {
		s.rejects--
	}
	s.mu.Unlock()

	reply("220 127.0.0.1 ESMTP ready")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			reply("250-127.0.0.1")
			reply("250 AUTH PLAIN")
		case "AUTH":
			s.mu.Lock()
			s.authed = true
			s.mu.Unlock()
			reply("235 2.7.0 Authentication successful")
		case "MAIL":
			s.mu.Lock()
			s.from = line
			s.mu.Unlock()
			reply("250 OK")
		case "RCPT":
			if reject {
				reply("451 4.3.0 Try again later")
				continue
			}
			s.mu.Lock()
			s.rcpts = append(s.rcpts, line)
			s.mu.Unlock()
			reply("250 OK")
		case "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(l, "\r\n") == "." {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.data = b.String()
			s.mu.Unlock()
			reply("250 OK queued")
		case "QUIT":
			reply("221 Bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func TestNewEmailValidates(t *testing.T) {
	_, err := NewEmail(EmailConfig{Port: 25, From: "ops@relief.example", To: []string{"desk@relief.example"}}, logging.Discard())
	assert.Error(t, err)
	_, err = NewEmail(EmailConfig{Host: "smtp.example", Port: 25, From: "ops@relief.example"}, logging.Discard())
	assert.Error(t, err)
	_, err = NewEmail(EmailConfig{Host: "smtp.example", Port: 25, From: "ops@relief.example", To: []string{"desk"}}, logging.Discard())
	assert.Error(t, err)

	m, err := NewEmail(EmailConfig{Host: "smtp.example", Port: 25, Username: "ops@relief.example", To: []string{"desk@relief.example"}}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "ops@relief.example", m.cfg.From)
}

func TestEmailRelay(t *testing.T) {
	stub := newSMTPStub(t, 1)
	m, err := NewEmail(EmailConfig{
		Host:          "127.0.0.1",
		Port:          stub.port(),
		Username:      "ops@relief.example",
		Password:      "secret",
		To:            []string{"desk@relief.example", "crpf@relief.example"},
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, logging.Discard())
	require.NoError(t, err)

	d, e := disaster()
	require.NoError(t, m.RelayEscalation(context.Background(), d, e))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, 2, stub.sessions)
	assert.True(t, stub.authed)
	assert.Contains(t, stub.from, "<ops@relief.example>")
	require.Len(t, stub.rcpts, 2)
	assert.Contains(t, stub.rcpts[0], "<desk@relief.example>")
	assert.Contains(t, stub.rcpts[1], "<crpf@relief.example>")
	assert.Contains(t, stub.data, "Subject: Escalation e1: high cyclone")
	assert.Contains(t, stub.data, "Location: Puri, Odisha")
	assert.Contains(t, stub.data, "Disaster: cyclone (d1)")
}

func TestEmailRelayGivesUp(t *testing.T) {
	stub := newSMTPStub(t, 5)
	m, err := NewEmail(EmailConfig{
		Host:          "127.0.0.1",
		Port:          stub.port(),
		From:          "ops@relief.example",
		To:            []string{"desk@relief.example"},
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}, logging.Discard())
	require.NoError(t, err)

	d, e := disaster()
	assert.Error(t, m.RelayEscalation(context.Background(), d, e))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, 2, stub.sessions)
	assert.False(t, stub.authed)
	assert.Empty(t, stub.data)
}
