package features

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/whitelist"
)

// Feature names, in extraction order
const (
	LinkCount        = "link_count"
	LinkToTextRatio  = "link_to_text_ratio"
	DomainMismatch   = "domain_mismatch"
	IPAddressLink    = "ip_address_link"
	InsecureLink     = "insecure_link"
	LookalikeDomain  = "lookalike_domain"
	SenderMalformed  = "sender_malformed"
	SenderSpoof      = "sender_spoof"
	UrgencyScore     = "urgency_score"
	SensitiveRequest = "sensitive_request"
	ExcessiveCaps    = "excessive_caps"
	AttachmentCount  = "attachment_count"
	AttachmentRisk   = "attachment_risk"
	Unparseable      = "unparseable"
	AnomalyCount     = "anomaly_count"
)

// Names lists every feature in extraction order
var Names = []string{
	LinkCount, LinkToTextRatio, DomainMismatch, IPAddressLink, InsecureLink,
	LookalikeDomain, SenderMalformed, SenderSpoof, UrgencyScore, SensitiveRequest,
	ExcessiveCaps, AttachmentCount, AttachmentRisk, Unparseable, AnomalyCount,
}

// Attachment risk levels
const (
	AttachmentRiskContainer  = 0.5
	AttachmentRiskExecutable = 1.0
)

// excessiveLinks is the link count above which a message is considered link-stuffed
const excessiveLinks = 10

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	capsPattern  = regexp.MustCompile(`[A-Z]{4,}`)
	domainish    = regexp.MustCompile(`(?i)^(https?://)?([a-z0-9-]+\.)+[a-z]{2,}(/\S*)?$`)
)

// Extractor derives heuristic signals from normalized content
type Extractor struct {
	checker *whitelist.Checker
}

// NewExtractor creates a new feature extractor
func NewExtractor(checker *whitelist.Checker) *Extractor {
	return &Extractor{checker: checker}
}

// Extract computes the feature set. It is deterministic and never fails.
func (e *Extractor) Extract(content *core.NormalizedContent) core.FeatureSet {
	links := parseLinks(content.Links)
	senderDomain := domainOf(content.Sender)
	text := content.Subject + " " + content.Text

	var (
		mismatch, ipLink, insecure, lookalike bool
		anomalies                             int
	)
	for _, l := range links {
		if l.host == "" {
			continue
		}
		if net.ParseIP(l.host) != nil {
			ipLink = true
		}
		if l.scheme == "http" {
			insecure = true
		}
		if _, ok := e.checker.Lookalike(l.host); ok {
			lookalike = true
		}
		if l.shown != "" && whitelist.RegistrableDomain(l.shown) != whitelist.RegistrableDomain(l.host) {
			mismatch = true
		}
		if l.userinfo {
			anomalies++
		}
		if strings.HasPrefix(l.host, "xn--") || strings.Contains(l.host, ".xn--") {
			anomalies++
		}
	}
	if senderDomain != "" {
		if _, ok := e.checker.Lookalike(senderDomain); ok {
			lookalike = true
		}
	}

	if content.TrackingPixels > 0 {
		anomalies++
	}
	if content.Subject == "" && content.Text != "" {
		anomalies++
	}
	if len(links) > excessiveLinks {
		anomalies++
	}
	if replyTo := domainOf(addressOnly(content.Headers["reply-to"])); replyTo != "" && senderDomain != "" &&
		whitelist.RegistrableDomain(replyTo) != whitelist.RegistrableDomain(senderDomain) {
		anomalies++
	}

	return core.NewFeatureSet(
		core.NumberFeature(LinkCount, float64(len(links))),
		core.NumberFeature(LinkToTextRatio, linkRatio(content)),
		core.BoolFeature(DomainMismatch, mismatch),
		core.BoolFeature(IPAddressLink, ipLink),
		core.BoolFeature(InsecureLink, insecure),
		core.BoolFeature(LookalikeDomain, lookalike),
		core.BoolFeature(SenderMalformed, content.Sender != "" && !emailPattern.MatchString(content.Sender)),
		core.BoolFeature(SenderSpoof, e.senderSpoof(content, senderDomain)),
		core.NumberFeature(UrgencyScore, urgencyScore(text)),
		core.BoolFeature(SensitiveRequest, containsAny(text, SensitiveTerms)),
		core.BoolFeature(ExcessiveCaps, len(capsPattern.FindAllString(content.Text, -1)) > 2),
		core.NumberFeature(AttachmentCount, float64(len(content.Attachments))),
		core.NumberFeature(AttachmentRisk, attachmentRisk(content.Attachments)),
		core.BoolFeature(Unparseable, content.Unparseable),
		core.NumberFeature(AnomalyCount, float64(anomalies)),
	)
}

// senderSpoof flags display names that claim a trusted brand or a different address than the sender
func (e *Extractor) senderSpoof(content *core.NormalizedContent, senderDomain string) bool {
	if content.DisplayName == "" || senderDomain == "" {
		return false
	}
	if embedded := domainOf(addressOnly(content.DisplayName)); embedded != "" &&
		whitelist.RegistrableDomain(embedded) != whitelist.RegistrableDomain(senderDomain) {
		return true
	}
	brand, ok := e.checker.MentionedBrand(content.DisplayName)
	if !ok {
		return false
	}
	return whitelist.RegistrableDomain(senderDomain) != brand
}

type parsedLink struct {
	scheme   string
	host     string
	shown    string
	userinfo bool
	length   int
}

func parseLinks(links []core.Link) []parsedLink {
	out := make([]parsedLink, 0, len(links))
	for _, l := range links {
		p := parsedLink{length: len(l.Display)}
		if p.length == 0 {
			p.length = len(l.Href)
		}
		if u, err := url.Parse(l.Href); err == nil {
			p.scheme = strings.ToLower(u.Scheme)
			p.host = strings.ToLower(u.Hostname())
			p.userinfo = u.User != nil
		}
		if d := strings.TrimSpace(l.Display); domainish.MatchString(d) {
			p.shown = displayHost(d)
		}
		out = append(out, p)
	}
	return out
}

// displayHost extracts the host a link's visible text claims to point at
func displayHost(display string) string {
	if !strings.Contains(display, "://") {
		display = "http://" + display
	}
	u, err := url.Parse(display)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func linkRatio(content *core.NormalizedContent) float64 {
	if len(content.Links) == 0 {
		return 0
	}
	if len(content.Text) == 0 {
		return 1
	}
	chars := 0
	for _, l := range content.Links {
		if l.Display != "" {
			chars += len(l.Display)
		} else {
			chars += len(l.Href)
		}
	}
	ratio := float64(chars) / float64(len(content.Text))
	if ratio > 1 {
		return 1
	}
	return ratio
}

func urgencyScore(text string) float64 {
	hits := Category(text)
	score := 0.0
	for _, category := range categoryOrder {
		if hits[category] > 0 {
			score += categoryWeights[category]
		}
	}
	if score > 1 {
		return 1
	}
	return score
}

func attachmentRisk(names []string) float64 {
	risk := 0.0
	for _, name := range names {
		lower := strings.ToLower(name)
		switch {
		case IsExecutable(lower):
			return AttachmentRiskExecutable
		case hasSuffix(lower, containerExtensions):
			risk = AttachmentRiskContainer
		}
	}
	return risk
}

func domainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.Trim(address[at+1:], "<> "))
}

// addressOnly pulls the address out of "Name <addr>" forms
func addressOnly(value string) string {
	if start := strings.LastIndex(value, "<"); start >= 0 {
		if end := strings.Index(value[start:], ">"); end > 0 {
			return value[start+1 : start+end]
		}
	}
	for _, field := range strings.Fields(value) {
		if strings.Contains(field, "@") {
			return field
		}
	}
	return ""
}
