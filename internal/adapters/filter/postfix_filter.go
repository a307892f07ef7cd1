package filter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/ports"
	"go.uber.org/zap"
)

// unscored is the category header value of mail that passed through without a verdict
const unscored = "unscored"

// PostfixFilter implements a Postfix content filter. Every message is analyzed on behalf
// of one configured tenant, annotated with verdict headers and handed back to Postfix.
type PostfixFilter struct {
	analyzer ports.Analyzer
	logger   *zap.Logger
	smtp     config.SMTPConfig
	headers  config.HeadersConfig
	timeout  time.Duration
	server   *smtp.Server
	deliver  func(sender string, recipients []string, data []byte) error
}

// NewPostfixFilter creates a new Postfix content filter
func NewPostfixFilter(
	analyzer ports.Analyzer,
	logger *zap.Logger,
	smtpCfg config.SMTPConfig,
	headers config.HeadersConfig,
	timeout time.Duration,
) *PostfixFilter {
	if smtpCfg.SubjectPrefix == "" && smtpCfg.ModifySubject {
		smtpCfg.SubjectPrefix = "[PHISHING] "
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	f := &PostfixFilter{
		analyzer: analyzer,
		logger:   logger,
		smtp:     smtpCfg,
		headers:  headers,
		timeout:  timeout,
	}
	f.deliver = f.sendToPostfix
	return f
}

// Start starts the Postfix filter service
func (f *PostfixFilter) Start() error {
	f.server = smtp.NewServer(&smtpBackend{filter: f})

	f.server.Addr = f.smtp.ListenAddress
	f.server.Domain = "localhost"
	f.server.ReadTimeout = 30 * time.Second
	f.server.WriteTimeout = 30 * time.Second
	f.server.MaxMessageBytes = 30 * 1024 * 1024
	f.server.MaxRecipients = 50

	f.logger.Info("Postfix filter starting",
		zap.String("address", f.smtp.ListenAddress),
		zap.String("tenant", f.smtp.TenantID))

	go func() {
		if err := f.server.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			f.logger.Error("SMTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the Postfix filter service
func (f *PostfixFilter) Stop() error {
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// ProcessEmail analyzes a submission directly
func (f *PostfixFilter) ProcessEmail(ctx context.Context, req *core.AnalysisRequest) (*core.Verdict, error) {
	return f.analyzer.Analyze(ctx, req)
}

// sendToPostfix sends the processed email back to Postfix on the configured address
func (f *PostfixFilter) sendToPostfix(sender string, recipients []string, emailData []byte) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", f.smtp.ForwardAddress, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to Postfix: %w", err)
	}

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}

	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	recipientOK := false
	for _, recipient := range recipients {
		if err := c.Rcpt(recipient, nil); err != nil {
			f.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", recipient),
				zap.Error(err))
		} else {
			recipientOK = true
		}
	}
	if !recipientOK {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(emailData); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send email data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		f.logger.Warn("QUIT command failed", zap.Error(err))
	}

	return nil
}

// annotate returns the message with verdict headers prepended and, for non-safe
// mail, the subject prefixed when configured
func (f *PostfixFilter) annotate(raw []byte, verdict *core.Verdict, analysisErr error) []byte {
	var added []string
	if verdict != nil {
		added = append(added,
			f.headers.Category+": "+string(verdict.Category),
			fmt.Sprintf("%s: %.4f", f.headers.Score, verdict.Score),
			f.headers.Reason+": "+headerValue(strings.Join(verdict.Reasons, "; ")))
	} else {
		added = append(added,
			f.headers.Category+": "+unscored,
			f.headers.Reason+": "+headerValue(analysisErr.Error()))
	}

	prefix := ""
	if verdict != nil && verdict.Category != core.CategorySafe && f.smtp.ModifySubject {
		prefix = f.smtp.SubjectPrefix
	}
	return rewriteMessage(raw, added, prefix)
}

// headerValue keeps a header value on one line
func headerValue(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// rewriteMessage prepends header lines to a raw message and prefixes its subject.
// Header order and the body are preserved byte for byte.
func rewriteMessage(raw []byte, added []string, subjectPrefix string) []byte {
	headerEnd := bytes.Index(raw, []byte("\r\n\r\n"))
	sep := 4
	if headerEnd == -1 {
		headerEnd = bytes.Index(raw, []byte("\n\n"))
		sep = 2
	}

	var out bytes.Buffer
	for _, h := range added {
		out.WriteString(h)
		out.WriteString("\r\n")
	}

	if headerEnd == -1 {
		out.WriteString("\r\n")
		out.Write(raw)
		return out.Bytes()
	}

	header := raw[:headerEnd]
	if subjectPrefix != "" {
		header = prefixSubject(header, subjectPrefix)
	}
	out.Write(header)
	out.Write(raw[headerEnd : headerEnd+sep])
	out.Write(raw[headerEnd+sep:])
	return out.Bytes()
}

func prefixSubject(header []byte, prefix string) []byte {
	lines := bytes.SplitAfter(header, []byte("\n"))
	found := false
	for i, line := range lines {
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok || !strings.EqualFold(string(name), "subject") {
			continue
		}
		found = true
		trimmed := bytes.TrimLeft(value, " \t")
		if bytes.HasPrefix(trimmed, []byte(prefix)) {
			break
		}
		lines[i] = append([]byte("Subject: "+prefix), trimmed...)
		break
	}

	if !found {
		eol := "\r\n"
		if !bytes.Contains(header, []byte("\r\n")) {
			eol = "\n"
		}
		lines = append(lines, []byte(eol+"Subject: "+strings.TrimSpace(prefix)))
	}
	return bytes.Join(lines, nil)
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	filter *PostfixFilter
}

// NewSession creates a new SMTP session
func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{
		filter:     b.filter,
		recipients: make([]string, 0),
	}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	filter     *PostfixFilter
	sender     string
	recipients []string
}

// Reset resets the session state
func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = make([]string, 0)
}

// Mail sets the sender address
func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt adds a recipient
func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data analyzes the message, then forwards it annotated or rejects it
func (s *smtpSession) Data(r io.Reader) error {
	f := s.filter

	rawData, err := io.ReadAll(r)
	if err != nil {
		f.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	req := core.NewAnalysisRequest(f.smtp.TenantID, core.EmailContent{Raw: rawData}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	verdict, analysisErr := f.analyzer.Analyze(ctx, req)
	if analysisErr != nil {
		level := zap.ErrorLevel
		if errors.Is(analysisErr, core.ErrQuotaExceeded) {
			level = zap.WarnLevel
		}
		f.logger.Log(level, "Passing message through unscored",
			zap.Error(analysisErr),
			zap.String("request_id", req.ID),
			zap.String("envelope_sender", s.sender))
	}

	if verdict != nil && verdict.Category == core.CategoryMalicious && f.smtp.BlockMalicious {
		f.logger.Info("Rejecting malicious email",
			zap.String("request_id", req.ID),
			zap.String("envelope_sender", s.sender),
			zap.Float64("score", verdict.Score),
			zap.Strings("reasons", verdict.Reasons))
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      fmt.Sprintf("Rejected as phishing (score: %.2f)", verdict.Score),
		}
	}

	annotated := f.annotate(rawData, verdict, analysisErr)

	if f.smtp.ForwardEnabled {
		if err := f.deliver(s.sender, s.recipients, annotated); err != nil {
			f.logger.Error("Failed to send email back to Postfix",
				zap.Error(err),
				zap.String("envelope_sender", s.sender))
			return err
		}
	} else {
		f.logger.Warn("Postfix forwarding disabled, this is likely a misconfiguration")
	}

	if verdict != nil {
		f.logger.Info("Processed email",
			zap.String("request_id", req.ID),
			zap.String("envelope_sender", s.sender),
			zap.String("category", string(verdict.Category)),
			zap.Float64("score", verdict.Score),
			zap.Bool("degraded", verdict.Degraded))
	}

	return nil
}

// Logout handles SMTP logout
func (s *smtpSession) Logout() error {
	return nil
}
