package features

import "strings"

// Keyword categories of coercive language
const (
	CategoryUrgency = "urgency"
	CategoryThreat  = "threat"
	CategoryAction  = "action"
	CategoryReward  = "reward"
)

// PhishingKeywords maps each language category to its trigger phrases
var PhishingKeywords = map[string][]string{
	CategoryUrgency: {
		"urgent", "immediate", "action required", "account suspended",
		"limited time", "expires soon", "act now", "deadline",
	},
	CategoryThreat: {
		"suspicious activity", "security alert", "unauthorized access",
		"unusual sign-in", "security breach", "account compromised",
	},
	CategoryAction: {
		"verify your account", "confirm your identity", "validate your account",
		"click here", "login now", "update your information",
	},
	CategoryReward: {
		"you won", "congratulations", "prize", "reward",
		"gift card", "free offer", "exclusive deal",
	},
}

// categoryOrder fixes iteration order over PhishingKeywords
var categoryOrder = []string{CategoryUrgency, CategoryThreat, CategoryAction, CategoryReward}

// categoryWeights weigh each category's contribution to the urgency score
var categoryWeights = map[string]float64{
	CategoryUrgency: 0.3,
	CategoryThreat:  0.3,
	CategoryAction:  0.25,
	CategoryReward:  0.15,
}

// SensitiveTerms are requests for credentials or financial data
var SensitiveTerms = []string{
	"password", "credit card", "social security", "bank account",
	"security code", "pin number", "login credentials",
}

// executableExtensions run code when opened
var executableExtensions = []string{
	".exe", ".scr", ".com", ".bat", ".cmd", ".pif", ".js", ".jse", ".vbs", ".vbe",
	".wsf", ".hta", ".jar", ".msi", ".ps1", ".lnk", ".docm", ".xlsm", ".pptm",
}

// containerExtensions can smuggle executables past scanners
var containerExtensions = []string{
	".zip", ".rar", ".7z", ".iso", ".img", ".gz", ".tar", ".html", ".htm",
}

// Category returns the language categories found in text, each with its hit count
func Category(text string) map[string]int {
	lower := strings.ToLower(text)
	hits := make(map[string]int, len(categoryOrder))
	for _, category := range categoryOrder {
		for _, kw := range PhishingKeywords[category] {
			if strings.Contains(lower, kw) {
				hits[category]++
			}
		}
	}
	return hits
}

func containsAny(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func hasSuffix(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// IsExecutable reports whether an attachment name has an executable or macro extension
func IsExecutable(name string) bool {
	return hasSuffix(strings.ToLower(name), executableExtensions)
}
