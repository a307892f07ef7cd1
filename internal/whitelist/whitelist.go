package whitelist

import (
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// DefaultTrustedDomains are brands commonly impersonated by phishing campaigns
var DefaultTrustedDomains = []string{
	"paypal.com", "google.com", "microsoft.com", "apple.com",
	"amazon.com", "facebook.com", "twitter.com", "linkedin.com",
}

// lookalikeSimilarity is the edit-distance similarity above which a domain imitates a trusted one
const lookalikeSimilarity = 0.8

// Checker holds the trusted domains used for sender trust and lookalike detection
type Checker struct {
	domains []string
	brands  map[string]string
	logger  *zap.Logger
}

// NewChecker creates a new trusted-domain checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	if len(domains) == 0 {
		domains = DefaultTrustedDomains
	}

	normalizedDomains := make([]string, 0, len(domains))
	brands := make(map[string]string, len(domains))
	for _, domain := range domains {
		d := strings.ToLower(strings.TrimSpace(domain))
		if d == "" {
			continue
		}
		normalizedDomains = append(normalizedDomains, d)
		if label := brandLabel(d); len(label) >= 4 {
			brands[label] = d
		}
	}

	if logger != nil {
		logger.Info("Initialized trusted domain checker", zap.Strings("domains", normalizedDomains))
	}

	return &Checker{
		domains: normalizedDomains,
		brands:  brands,
		logger:  logger,
	}
}

// Domains returns the trusted domains
func (c *Checker) Domains() []string {
	return append([]string(nil), c.domains...)
}

// IsTrusted checks if a host belongs to a trusted domain
func (c *Checker) IsTrusted(host string) bool {
	domain := RegistrableDomain(host)
	for _, trusted := range c.domains {
		if trusted == domain {
			return true
		}
	}
	return false
}

// Lookalike reports the trusted domain a host imitates, if any.
// A trusted domain itself is never a lookalike.
func (c *Checker) Lookalike(host string) (string, bool) {
	domain := RegistrableDomain(host)
	if domain == "" || c.IsTrusted(domain) {
		return "", false
	}

	for _, trusted := range c.domains {
		if Similarity(domain, trusted) > lookalikeSimilarity {
			c.debug(domain, trusted, "similarity")
			return trusted, true
		}
	}

	// brand label embedded in an unrelated domain, e.g. paypal-secure-login.com
	label := brandLabel(domain)
	for brand, trusted := range c.brands {
		if label != brand && strings.Contains(label, brand) {
			c.debug(domain, trusted, "embedded_brand")
			return trusted, true
		}
	}

	return "", false
}

// MentionedBrand returns the trusted domain whose brand name appears in text
func (c *Checker) MentionedBrand(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, trusted := range c.domains {
		if strings.Contains(lower, trusted) {
			return trusted, true
		}
	}
	for brand, trusted := range c.brands {
		if strings.Contains(lower, brand) {
			return trusted, true
		}
	}
	return "", false
}

func (c *Checker) debug(domain, trusted, method string) {
	if c.logger != nil {
		c.logger.Debug("Lookalike domain detected",
			zap.String("domain", domain),
			zap.String("imitates", trusted),
			zap.String("method", method))
	}
}

// RegistrableDomain returns the eTLD+1 of a host, or the lower-cased host when it has none
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

func brandLabel(domain string) string {
	if suffix, _ := publicsuffix.PublicSuffix(domain); suffix != "" && len(domain) > len(suffix)+1 {
		return domain[:len(domain)-len(suffix)-1]
	}
	return domain
}

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b))
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
