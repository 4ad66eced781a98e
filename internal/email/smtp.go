package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/receipt-report-service/internal/config"
)

// Dialer abstracts net.Dialer so tests can hand the sender a pipe.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type SMTPOption func(*SMTPSender)

func WithDialer(d Dialer) SMTPOption {
	return func(s *SMTPSender) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithTLSConfig replaces the STARTTLS configuration; nil disables STARTTLS.
func WithTLSConfig(cfg *tls.Config) SMTPOption {
	return func(s *SMTPSender) {
		s.tlsConfig = cfg
	}
}

func WithClock(now func() time.Time) SMTPOption {
	return func(s *SMTPSender) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBoundary pins the multipart boundary. Only useful in tests.
func WithBoundary(boundary string) SMTPOption {
	return func(s *SMTPSender) {
		s.boundary = boundary
	}
}

// SMTPSender delivers messages through a plain SMTP relay, upgrading with
// STARTTLS and authenticating when the server offers it.
type SMTPSender struct {
	log       zerolog.Logger
	host      string
	port      int
	from      mail.Address
	auth      smtp.Auth
	tlsConfig *tls.Config
	dialer    Dialer
	timeout   time.Duration
	now       func() time.Time
	boundary  string
}

func NewSMTPSender(cfg config.SMTPConfig, log zerolog.Logger, opts ...SMTPOption) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp sender: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp sender: invalid port %d", cfg.Port)
	}
	from, err := mail.ParseAddress(strings.TrimSpace(cfg.From))
	if err != nil {
		return nil, fmt.Errorf("smtp sender: invalid from address: %w", err)
	}
	if cfg.FromName != "" {
		from.Name = cfg.FromName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &SMTPSender{
		log:     log.With().Str("component", "smtp").Logger(),
		host:    cfg.Host,
		port:    cfg.Port,
		from:    *from,
		dialer:  &net.Dialer{Timeout: timeout},
		timeout: timeout,
		now:     time.Now,
		tlsConfig: &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		},
	}
	if strings.TrimSpace(cfg.User) != "" {
		s.auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("smtp sender: message is required")
	}
	if len(msg.To) == 0 {
		return errors.New("smtp sender: at least one recipient is required")
	}

	recipients := make([]string, 0, len(msg.To))
	for _, raw := range msg.To {
		addr, err := mail.ParseAddress(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("smtp sender: invalid recipient %q: %w", raw, err)
		}
		recipients = append(recipients, addr.Address)
	}

	body, err := s.buildMessage(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.deliver(ctx, recipients, body); err != nil {
		return err
	}
	s.log.Debug().Strs("to", recipients).Str("subject", msg.Subject).Int("attachments", len(msg.Attachments)).Msg("email sent")
	return nil
}

func (s *SMTPSender) deliver(ctx context.Context, recipients []string, message []byte) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp sender: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return fmt.Errorf("smtp sender: new client: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp sender: hello: %w", err)
	}
	if s.tlsConfig != nil {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(s.tlsConfig.Clone()); err != nil {
				return fmt.Errorf("smtp sender: starttls: %w", err)
			}
		}
	}
	if s.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(s.auth); err != nil {
				return fmt.Errorf("smtp sender: auth: %w", err)
			}
		}
	}

	if err := client.Mail(s.from.Address); err != nil {
		return fmt.Errorf("smtp sender: mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp sender: rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp sender: data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp sender: data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp sender: data close: %w", err)
	}

	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("smtp sender: quit: %w", err)
	}
	return nil
}

// buildMessage renders a multipart/mixed message: the HTML body first, then
// each attachment base64 encoded.
func (s *SMTPSender) buildMessage(msg *Message) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if s.boundary != "" {
		if err := mw.SetBoundary(s.boundary); err != nil {
			return nil, fmt.Errorf("smtp sender: boundary: %w", err)
		}
	}

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(htmlPart, []byte(msg.HTMLBody)); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		ctype := att.ContentType
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {mime.FormatMediaType(ctype, map[string]string{"name": att.Filename})},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename})},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64(part, att.Content); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}
	header("From", s.from.String())
	header("To", strings.Join(msg.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", sanitizeHeaderValue(msg.Subject)))
	header("Date", s.now().UTC().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": mw.Boundary()}))
	buf.WriteString("\r\n")
	buf.Write(body.Bytes())

	return buf.Bytes(), nil
}

// writeBase64 writes data base64 encoded in 76 character lines.
func writeBase64(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := io.WriteString(w, encoded[:76]+"\r\n"); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err := io.WriteString(w, encoded+"\r\n")
	return err
}

func sanitizeHeaderValue(value string) string {
	clean := strings.ReplaceAll(value, "\r", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	return strings.TrimSpace(clean)
}
