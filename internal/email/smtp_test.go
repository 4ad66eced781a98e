package email_test

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/receipt-report-service/internal/config"
	"github.com/unclebandit/receipt-report-service/internal/email"
)

var smtpCfg = config.SMTPConfig{
	Host:     "smtp.example.com",
	Port:     2525,
	From:     "reports@example.com",
	FromName: "Receipt System",
	Timeout:  time.Second,
}

func TestNewSMTPSenderValidation(t *testing.T) {
	cases := map[string]config.SMTPConfig{
		"missing host": {Port: 25, From: "a@b.com"},
		"bad port":     {Host: "smtp", Port: 0, From: "a@b.com"},
		"bad from":     {Host: "smtp", Port: 25, From: "not an address"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := email.NewSMTPSender(cfg, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	s, err := email.NewSMTPSender(smtpCfg, zerolog.Nop())
	require.NoError(t, err)

	assert.Error(t, s.Send(context.Background(), nil))
	assert.Error(t, s.Send(context.Background(), &email.Message{Subject: "x"}))
}

func TestSendWithAttachment(t *testing.T) {
	server := &fakeSMTP{}
	s, err := email.NewSMTPSender(smtpCfg, zerolog.Nop(),
		email.WithTLSConfig(nil),
		email.WithDialer(server),
		email.WithBoundary("report-boundary"),
		email.WithClock(func() time.Time { return time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, err)

	pdf := []byte("%PDF-1.3 fake content that is long enough to wrap across more than one base64 line of output")
	err = s.Send(context.Background(), &email.Message{
		To:       []string{"owner@example.com"},
		Subject:  "Yearly Receipt Report (pdf) - Main Building (2024)",
		HTMLBody: "<p>Total: $600.00</p>",
		Attachments: []email.Attachment{
			{Filename: "Main_Building_Report_2024.pdf", ContentType: "application/pdf", Content: pdf},
		},
	})
	require.NoError(t, err)
	server.wait()

	assert.Equal(t, "reports@example.com", server.mailFrom)
	assert.Equal(t, []string{"owner@example.com"}, server.rcpts)

	msg, err := mail.ReadMessage(strings.NewReader(server.data))
	require.NoError(t, err)
	assert.Equal(t, "Yearly Receipt Report (pdf) - Main Building (2024)", msg.Header.Get("Subject"))
	assert.Equal(t, `"Receipt System" <reports@example.com>`, msg.Header.Get("From"))

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)
	assert.Equal(t, "report-boundary", params["boundary"])

	mr := multipart.NewReader(msg.Body, params["boundary"])

	htmlPart, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "<p>Total: $600.00</p>", decodePart(t, htmlPart))

	attPart, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "Main_Building_Report_2024.pdf", attPart.FileName())
	assert.Equal(t, string(pdf), decodePart(t, attPart))

	_, err = mr.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSendDialFailure(t *testing.T) {
	s, err := email.NewSMTPSender(smtpCfg, zerolog.Nop(), email.WithDialer(dialerFunc(
		func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		})))
	require.NoError(t, err)

	err = s.Send(context.Background(), &email.Message{To: []string{"owner@example.com"}, Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func decodePart(t *testing.T, p *multipart.Part) string {
	t.Helper()
	raw, err := io.ReadAll(p)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(strings.NewReplacer("\r", "", "\n", "").Replace(string(raw)))
	require.NoError(t, err)
	return string(decoded)
}

type dialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (d dialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d(ctx, network, address)
}

// fakeSMTP speaks just enough SMTP over a pipe to capture one message.
type fakeSMTP struct {
	wg       sync.WaitGroup
	mailFrom string
	rcpts    []string
	data     string
}

func (f *fakeSMTP) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	server, client := net.Pipe()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer server.Close()
		_ = f.converse(server)
	}()
	return client, nil
}

func (f *fakeSMTP) wait() { f.wg.Wait() }

func (f *fakeSMTP) converse(conn net.Conn) error {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	reply := func(line string) error {
		if _, err := fmt.Fprintf(w, "%s\r\n", line); err != nil {
			return err
		}
		return w.Flush()
	}

	if err := reply("220 fake smtp ready"); err != nil {
		return err
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			_ = reply("250-fake")
			err = reply("250 OK")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			f.mailFrom = between(line, "<", ">")
			err = reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			f.rcpts = append(f.rcpts, between(line, "<", ">"))
			err = reply("250 OK")
		case upper == "DATA":
			if err := reply("354 go ahead"); err != nil {
				return err
			}
			var sb strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return err
				}
				if l == ".\r\n" {
					break
				}
				sb.WriteString(l)
			}
			f.data = sb.String()
			err = reply("250 OK")
		case upper == "QUIT":
			return reply("221 bye")
		default:
			err = reply("250 OK")
		}
		if err != nil {
			return err
		}
	}
}

func between(s, open, close string) string {
	i := strings.Index(s, open)
	j := strings.LastIndex(s, close)
	if i < 0 || j <= i {
		return s
	}
	return s[i+1 : j]
}
