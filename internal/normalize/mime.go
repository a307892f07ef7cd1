package normalize

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"strings"

	"github.com/jhillyerd/enmime"
	"golang.org/x/text/encoding/htmlindex"
)

// message is the decoded view of an email regardless of how it was submitted
type message struct {
	from        string
	subject     string
	text        string
	html        string
	attachments []string
	headers     map[string]string
	damaged     bool
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// charsetReader converts input in the named charset to UTF-8
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// decodeHeader decodes RFC 2047 encoded-words, returning the input unchanged when it cannot
func decodeHeader(value string) (string, bool) {
	if !strings.Contains(value, "=?") {
		return value, true
	}
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value, false
	}
	return decoded, true
}

// looksLikeMessage reports whether body starts with an RFC 5322 header block carrying MIME headers
func looksLikeMessage(body string) bool {
	end := strings.Index(body, "\r\n\r\n")
	if end < 0 {
		end = strings.Index(body, "\n\n")
	}
	if end <= 0 {
		return false
	}

	mimeHeader := false
	for _, line := range strings.Split(strings.ReplaceAll(body[:end], "\r\n", "\n"), "\n") {
		if line == "" {
			return false
		}
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		name, _, ok := strings.Cut(line, ":")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return false
		}
		switch strings.ToLower(name) {
		case "mime-version", "content-type", "content-transfer-encoding":
			mimeHeader = true
		}
	}
	return mimeHeader
}

// readEnvelope parses a full MIME message
func readEnvelope(raw []byte) (*message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to read envelope: %w", err)
	}

	msg := &message{
		from:    env.GetHeader("From"),
		subject: env.GetHeader("Subject"),
		text:    env.Text,
		html:    env.HTML,
		headers: make(map[string]string),
	}
	for _, key := range env.GetHeaderKeys() {
		msg.headers[strings.ToLower(key)] = env.GetHeader(key)
	}
	for _, att := range env.Attachments {
		msg.attachments = append(msg.attachments, attachmentName(att.FileName, att.ContentType))
	}
	for _, e := range env.Errors {
		if e.Severe {
			msg.damaged = true
			break
		}
	}
	return msg, nil
}

// attachmentName returns a stable, lower-cased name for an attachment
func attachmentName(fileName, contentType string) string {
	name := strings.ToLower(strings.TrimSpace(fileName))
	if name == "" {
		return "unnamed:" + strings.ToLower(contentType)
	}
	return name
}

// decodeBody decodes a single-part body according to its headers
func decodeBody(body string, headers map[string]string) (text string, isHTML bool, ok bool) {
	ok = true
	text = body

	switch strings.ToLower(strings.TrimSpace(headers["content-transfer-encoding"])) {
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(body)))
		if err != nil {
			ok = false
		} else {
			text = string(decoded)
		}
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(stripWhitespace(body))
		if err != nil {
			ok = false
		} else {
			text = string(decoded)
		}
	}

	mediaType, params, err := mime.ParseMediaType(headers["content-type"])
	if err == nil {
		isHTML = mediaType == "text/html"
		if cs := params["charset"]; cs != "" && !strings.EqualFold(cs, "utf-8") && !strings.EqualFold(cs, "us-ascii") {
			r, err := charsetReader(cs, strings.NewReader(text))
			if err != nil {
				ok = false
			} else if converted, err := io.ReadAll(r); err != nil {
				ok = false
			} else {
				text = string(converted)
			}
		}
	}
	if !isHTML {
		isHTML = looksLikeHTML(text)
	}
	return text, isHTML, ok
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<a ") || strings.Contains(lower, "<div") || strings.Contains(lower, "<p>")
}
