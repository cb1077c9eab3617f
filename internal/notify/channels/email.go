package channels

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/observability/logging"
	"building-cloud/internal/providers"
)

// MailTransport submits a prepared message.
type MailTransport interface {
	Send(ctx context.Context, cfg providers.SMTPConfig, from string, to []string, msg []byte) error
}

// SMTPTransport talks to the tenant's server over STARTTLS with PLAIN auth.
type SMTPTransport struct {
	Dialer    *net.Dialer
	TLSConfig *tls.Config
}

// Send opens one session per message.
func (t SMTPTransport) Send(ctx context.Context, cfg providers.SMTPConfig, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := t.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 10 * time.Second}
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return providers.ClassifyTransport(providers.ProviderSMTP, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return smtpError(err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); !ok {
		return &providers.RejectedError{Provider: providers.ProviderSMTP, Message: "server does not offer STARTTLS"}
	}
	tlsConfig := t.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		return smtpError(err)
	}
	if cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return smtpError(err)
		}
	}
	if err := client.Mail(from); err != nil {
		return smtpError(err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return smtpError(err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return smtpError(err)
	}
	if _, err := w.Write(msg); err != nil {
		return smtpError(err)
	}
	if err := w.Close(); err != nil {
		return smtpError(err)
	}
	return client.Quit()
}

func smtpError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return &providers.RejectedError{
			Provider: providers.ProviderSMTP,
			Code:     strconv.Itoa(protoErr.Code),
			Message:  protoErr.Msg,
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return providers.Transient(providers.ProviderSMTP, err)
	}
	return &providers.RejectedError{Provider: providers.ProviderSMTP, Message: err.Error()}
}

// EmailSender renders multipart mail and logs every attempt.
type EmailSender struct {
	transport MailTransport
	log       notify.MailLogRepository
	now       func() time.Time
	logger    logging.Logger
}

// EmailOption configures the sender.
type EmailOption func(*EmailSender)

// WithMailLog records attempts into repo.
func WithMailLog(repo notify.MailLogRepository) EmailOption {
	return func(s *EmailSender) {
		s.log = repo
	}
}

// WithEmailClock overrides the clock.
func WithEmailClock(now func() time.Time) EmailOption {
	return func(s *EmailSender) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEmailLogger sets the logger.
func WithEmailLogger(logger logging.Logger) EmailOption {
	return func(s *EmailSender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewEmailSender constructs a sender. A nil transport uses SMTPTransport.
func NewEmailSender(transport MailTransport, opts ...EmailOption) *EmailSender {
	if transport == nil {
		transport = SMTPTransport{}
	}
	s := &EmailSender{
		transport: transport,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logging.NewDiscard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EmailSender) Channel() notify.Channel { return notify.ChannelEmail }

// BatchSize is one: every message is personalised and submitted in its own session.
func (s *EmailSender) BatchSize() int { return 1 }

func (s *EmailSender) Addresses(r Recipient) []string {
	addr := strings.TrimSpace(r.Email)
	if addr == "" {
		return nil
	}
	return []string{addr}
}

func (s *EmailSender) Ready(cfg *providers.TenantConfig) error {
	_, err := cfg.SMTPSettings()
	return err
}

// Send delivers each message separately.
func (s *EmailSender) Send(ctx context.Context, cfg *providers.TenantConfig, batch []Message) ([]error, error) {
	settings, err := cfg.SMTPSettings()
	if err != nil {
		return nil, err
	}
	out := make([]error, len(batch))
	for i, msg := range batch {
		out[i] = s.deliver(ctx, settings, msg)
	}
	return out, nil
}

// SendDirect sends a template-less message, used for test mail and ad hoc sends.
func (s *EmailSender) SendDirect(ctx context.Context, cfg *providers.TenantConfig, to []string, subject, rich, plain string) error {
	settings, err := cfg.SMTPSettings()
	if err != nil {
		return err
	}
	return s.deliver(ctx, settings, Message{
		TenantID:  cfg.TenantID,
		Addresses: to,
		Subject:   subject,
		Rich:      rich,
		Plain:     plain,
	})
}

func (s *EmailSender) deliver(ctx context.Context, settings providers.SMTPConfig, msg Message) (err error) {
	start := time.Now()
	defer func() {
		observe(providers.ProviderSMTP, start, err)
		s.record(ctx, msg, err)
	}()

	to := make([]string, 0, len(msg.Addresses))
	for _, addr := range msg.Addresses {
		parsed, perr := mail.ParseAddress(addr)
		if perr != nil {
			return &providers.RejectedError{Provider: providers.ProviderSMTP, Code: "invalid_address", Message: fmt.Sprintf("invalid address %q", addr)}
		}
		to = append(to, parsed.Address)
	}
	if len(to) == 0 {
		return &providers.RejectedError{Provider: providers.ProviderSMTP, Code: "invalid_address", Message: "no recipient"}
	}
	body, err := BuildMIME(settings.FromHeader(), to, msg.Subject, msg.Plain, msg.Rich, s.now())
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, settings, settings.FromAddress(), to, body)
}

func (s *EmailSender) record(ctx context.Context, msg Message, err error) {
	if s.log == nil {
		return
	}
	entry := notify.MailLogEntry{
		ID:           uuid.NewString(),
		TenantID:     msg.TenantID,
		Recipients:   append([]string(nil), msg.Addresses...),
		Subject:      msg.Subject,
		TemplateName: msg.TemplateName,
		Status:       notify.MailSent,
		CreatedAt:    s.now(),
	}
	if err != nil {
		entry.Status = notify.MailFailed
		entry.Error = err.Error()
	}
	// The log is best effort and must not change the delivery outcome.
	if lerr := s.log.Append(context.WithoutCancel(ctx), entry); lerr != nil {
		s.logger.WithError(lerr).WithField("tenant_id", msg.TenantID).Warn("mail log append failed")
	}
}

// BuildMIME assembles a multipart/alternative message with plain and rich parts.
func BuildMIME(from string, to []string, subject, plain, rich string, date time.Time) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("From", sanitizeHeader(from))
	header.Set("To", sanitizeHeader(strings.Join(to, ", ")))
	header.Set("Subject", mime.QEncoding.Encode("utf-8", sanitizeHeader(subject)))
	header.Set("Date", date.Format(time.RFC1123Z))
	header.Set("MIME-Version", "1.0")
	header.Set("Content-Type", "multipart/alternative; boundary="+writer.Boundary())

	var head bytes.Buffer
	for _, key := range []string{"From", "To", "Subject", "Date", "MIME-Version", "Content-Type"} {
		fmt.Fprintf(&head, "%s: %s\r\n", key, header.Get(key))
	}
	head.WriteString("\r\n")

	if err := writePart(writer, "text/plain; charset=UTF-8", plain); err != nil {
		return nil, err
	}
	if rich != "" {
		if err := writePart(writer, "text/html; charset=UTF-8", rich); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return append(head.Bytes(), buf.Bytes()...), nil
}

func writePart(writer *multipart.Writer, contentType, content string) error {
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
