package normalize

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer canonicalizes raw email content for fingerprinting and feature extraction
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a new Normalizer
func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize converts email content to its canonical form. It never fails: anything that
// cannot be decoded is kept as-is and the result is flagged unparseable.
func (n *Normalizer) Normalize(content core.EmailContent) *core.NormalizedContent {
	msg, ok := n.decode(content)

	out := &core.NormalizedContent{
		Headers:     make(map[string]string, len(msg.headers)),
		Attachments: msg.attachments,
		Unparseable: !ok || msg.damaged,
	}

	for k, v := range msg.headers {
		out.Headers[strings.ToLower(strings.TrimSpace(k))] = collapse(clean(v))
	}

	from, fromOK := decodeHeader(msg.from)
	subject, subjectOK := decodeHeader(msg.subject)
	if !fromOK || !subjectOK {
		out.Unparseable = true
	}
	out.Sender, out.DisplayName = canonicalSender(from)
	out.Subject = collapse(clean(subject))

	if msg.html != "" {
		parsed, htmlOK := parseHTML(msg.html)
		if !htmlOK {
			out.Unparseable = true
		}
		out.Text = collapse(clean(parsed.text))
		out.TrackingPixels = parsed.trackingPixels
		for _, l := range parsed.links {
			out.Links = append(out.Links, core.Link{Href: clean(l.Href), Display: collapse(clean(l.Display))})
		}
		out.Links = appendMissing(out.Links, plainLinks(out.Text))
	} else {
		out.Text = collapse(clean(msg.text))
		out.Links = plainLinks(out.Text)
	}

	if !utf8.ValidString(msg.text) || !utf8.ValidString(msg.html) || !utf8.ValidString(msg.subject) {
		out.Unparseable = true
	}

	if out.Unparseable && n.logger != nil {
		n.logger.Debug("Content partially undecodable, kept best-effort",
			zap.String("sender", out.Sender),
			zap.Int("text_length", len(out.Text)))
	}

	return out
}

// decode resolves the submission into a single message view
func (n *Normalizer) decode(content core.EmailContent) (*message, bool) {
	raw := content.Raw
	if len(raw) == 0 && looksLikeMessage(content.Body) {
		raw = []byte(content.Body)
	}

	if len(raw) > 0 {
		msg, err := readEnvelope(raw)
		if err == nil {
			if content.Sender != "" {
				msg.from = content.Sender
			}
			if content.Subject != "" {
				msg.subject = content.Subject
			}
			mergeHeaders(msg.headers, content.Headers)
			return msg, true
		}
		if n.logger != nil {
			n.logger.Debug("Failed to parse MIME message", zap.Error(err))
		}
		msg = &message{
			from:    content.Sender,
			subject: content.Subject,
			text:    string(raw),
			headers: make(map[string]string),
		}
		mergeHeaders(msg.headers, content.Headers)
		return msg, false
	}

	msg := &message{
		from:    content.Sender,
		subject: content.Subject,
		headers: make(map[string]string),
	}
	mergeHeaders(msg.headers, content.Headers)
	if msg.from == "" {
		msg.from = msg.headers["from"]
	}
	if msg.subject == "" {
		msg.subject = msg.headers["subject"]
	}

	body, isHTML, ok := decodeBody(content.Body, msg.headers)
	if isHTML {
		msg.html = body
	} else {
		msg.text = body
	}
	return msg, ok
}

func mergeHeaders(dst map[string]string, src map[string][]string) {
	for k, v := range src {
		key := strings.ToLower(strings.TrimSpace(k))
		if _, exists := dst[key]; exists || len(v) == 0 {
			continue
		}
		dst[key] = v[0]
	}
}

// canonicalSender returns the lower-cased address and the display name of a From value
func canonicalSender(from string) (address, display string) {
	from = collapse(clean(from))
	if from == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return strings.ToLower(from), ""
	}
	return strings.ToLower(addr.Address), collapse(clean(addr.Name))
}

var cleaner = transform.Chain(runes.Remove(runes.In(unicode.Cf)), norm.NFKC)

// clean applies NFKC and drops format characters such as zero-width spaces
func clean(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "\uFFFD")
	out, _, err := transform.String(cleaner, s)
	if err != nil {
		return s
	}
	return out
}

// collapse replaces runs of whitespace with a single space and trims
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// appendMissing adds bare URLs that are not already an anchor's target or display text
func appendMissing(links []core.Link, extra []core.Link) []core.Link {
	seen := make(map[string]struct{}, len(links)*2)
	for _, l := range links {
		seen[l.Href] = struct{}{}
		if l.Display != "" {
			seen[l.Display] = struct{}{}
		}
	}
	for _, l := range extra {
		if _, ok := seen[l.Href]; ok {
			continue
		}
		seen[l.Href] = struct{}{}
		links = append(links, l)
	}
	return links
}
