package enrich

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/sells-group/leadfinder/internal/model"
)

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// DefaultPlaceholderDomains are template and asset-host domains that show up
// in page source but never belong to the business.
var DefaultPlaceholderDomains = []string{
	"example.com",
	"domain.com",
	"email.com",
	"yourdomain.com",
	"sentry.io",
	"wixpress.com",
}

// Asset file extensions that the email pattern matches in names like logo@2x.png.
var assetTLDs = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "svg": {}, "webp": {}, "css": {}, "js": {},
}

// NormalizeURL adds an https scheme when the website has none.
func NormalizeURL(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	lower := strings.ToLower(website)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return website
	}
	return "https://" + strings.TrimPrefix(website, "//")
}

// ExtractEmail returns the first email-like token in text whose domain is
// not a placeholder, or "" when there is none.
func ExtractEmail(text string, placeholders map[string]struct{}) string {
	for _, m := range emailRe.FindAllString(text, -1) {
		at := strings.LastIndexByte(m, '@')
		domain := strings.ToLower(strings.Trim(m[at+1:], "."))
		if isPlaceholder(domain, placeholders) {
			continue
		}
		if _, ok := assetTLDs[domain[strings.LastIndexByte(domain, '.')+1:]]; ok {
			continue
		}
		return m
	}
	return ""
}

func isPlaceholder(domain string, placeholders map[string]struct{}) bool {
	for d := domain; d != ""; {
		if _, ok := placeholders[d]; ok {
			return true
		}
		dot := strings.IndexByte(d, '.')
		if dot < 0 {
			break
		}
		d = d[dot+1:]
	}
	return false
}

type socialRule struct {
	domains []string
	set     func(*model.SocialLinks, string)
}

// Order matters: the first matching platform wins.
var socialRules = []socialRule{
	{[]string{"instagram.com"}, func(l *model.SocialLinks, u string) { l.Instagram = u }},
	{[]string{"youtube.com", "youtu.be"}, func(l *model.SocialLinks, u string) { l.YouTube = u }},
	{[]string{"twitter.com", "x.com"}, func(l *model.SocialLinks, u string) { l.Twitter = u }},
	{[]string{"facebook.com", "fb.com"}, func(l *model.SocialLinks, u string) { l.Facebook = u }},
}

// ClassifySocial files the website itself under at most one social platform,
// matching each platform's domains against the URL host on label boundaries,
// so country hosts like facebook.com.br match and box.com does not match x.com.
func ClassifySocial(website string) model.SocialLinks {
	var links model.SocialLinks
	u, err := url.Parse(NormalizeURL(website))
	if err != nil || u.Hostname() == "" {
		return links
	}
	host := "." + strings.ToLower(u.Hostname()) + "."
	for _, rule := range socialRules {
		for _, d := range rule.domains {
			if strings.Contains(host, "."+d+".") {
				rule.set(&links, website)
				return links
			}
		}
	}
	return links
}

func placeholderSet(domains []string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			set[d] = struct{}{}
		}
	}
	return set
}
