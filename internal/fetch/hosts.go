package fetch

import (
	"net/url"
	"regexp"
	"strings"
)

// Markers of a browser error page instead of real content
var connectionErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bERR_[A-Z_]{3,}\b`),
	regexp.MustCompile(`无法访问此网站`),
	regexp.MustCompile(`(?i)this site can.t be reached`),
}

// ExtractDomain extracts the hostname (domain/subdomain) from a URL string
func ExtractDomain(urlStr string) (string, error) {
	// Handle protocol-relative URLs
	if strings.HasPrefix(urlStr, "//") {
		urlStr = "https:" + urlStr
	}

	// Relative URLs have no host
	if !strings.Contains(urlStr, "://") {
		return "", nil
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}

	return strings.ToLower(parsed.Hostname()), nil
}

// ExtractRootDomain extracts the root domain from a subdomain
// Example: movie.douban.com -> douban.com
func ExtractRootDomain(domain string) string {
	parts := strings.Split(domain, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "." + parts[len(parts)-1]
	}
	return domain
}

// MatchesHost reports whether target's root domain is one of hosts
func MatchesHost(target string, hosts []string) bool {
	domain, err := ExtractDomain(target)
	if err != nil || domain == "" {
		return false
	}
	root := ExtractRootDomain(domain)
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == domain || ExtractRootDomain(h) == root {
			return true
		}
	}
	return false
}

// IsConnectionErrorPage checks rendered HTML for a browser error page
func IsConnectionErrorPage(html string) bool {
	for _, pattern := range connectionErrorPatterns {
		if pattern.MatchString(html) {
			return true
		}
	}
	return false
}
