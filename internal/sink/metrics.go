package sink

import (
	"net/url"
	"regexp"
	"strings"
)

// Brands lists the domains and names a capture is scored against.
type Brands struct {
	MyDomains         []string
	CompetitorDomains []string
	Names             []string
}

// Metrics scores an answer's citations against Brands.
type Metrics struct {
	MyDomain            string   `json:"my_domain,omitempty"`
	MyCitations         []string `json:"my_citations"`
	CompetitorCitations []string `json:"competitor_citations"`
	TotalCitations      int      `json:"total_citations_count"`
	MyDomainCitations   int      `json:"my_domain_citations_count"`
	MyBrandMentions     int      `json:"my_brand_mentions_count"`
	AppearedLinksUnique []string `json:"appeared_links_unique"`
	ZeroCitations       bool     `json:"zero_citations"`
}

// BuildMetrics classifies links as mine or a competitor's and counts brand
// mentions in the answer. A link that matches one of my domains is never
// also counted as a competitor's.
func BuildMetrics(answer string, links []string, b Brands) Metrics {
	mine := cleanList(b.MyDomains)
	competitors := cleanList(b.CompetitorDomains)
	unique := uniqueLinks(links)

	m := Metrics{
		MyCitations:         []string{},
		CompetitorCitations: []string{},
		AppearedLinksUnique: unique,
		TotalCitations:      len(unique),
		ZeroCitations:       len(unique) == 0,
	}
	if len(mine) > 0 {
		m.MyDomain = mine[0]
	}

	for _, link := range unique {
		host := Domain(link)
		if host == "" {
			continue
		}
		if matchesAny(host, mine) {
			m.MyCitations = append(m.MyCitations, link)
			continue
		}
		if matchesAny(host, competitors) {
			m.CompetitorCitations = append(m.CompetitorCitations, link)
		}
	}
	m.MyDomainCitations = len(m.MyCitations)
	m.MyBrandMentions = CountBrandMentions(answer, brandVariants(m.MyDomain, b.Names))
	return m
}

// Domain returns the lowercase host of raw with any leading "www." removed.
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// DomainMatches reports whether host is target or a subdomain of it.
func DomainMatches(host, target string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	target = strings.TrimPrefix(strings.ToLower(target), "www.")
	if host == "" || target == "" {
		return false
	}
	return host == target || strings.HasSuffix(host, "."+target)
}

// CountBrandMentions counts whole-word, case-insensitive occurrences of each
// brand variant in text.
func CountBrandMentions(text string, variants []string) int {
	if text == "" {
		return 0
	}
	total := 0
	for _, v := range variants {
		v = strings.Join(strings.Fields(v), " ")
		if v == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(v) + `\b`)
		total += len(re.FindAllStringIndex(text, -1))
	}
	return total
}

func matchesAny(host string, targets []string) bool {
	for _, t := range targets {
		if DomainMatches(host, t) {
			return true
		}
	}
	return false
}

// brandVariants is the first label of my domain plus the configured names,
// deduplicated without regard to case.
func brandVariants(myDomain string, names []string) []string {
	var candidates []string
	if myDomain != "" {
		candidates = append(candidates, strings.SplitN(myDomain, ".", 2)[0])
	}
	candidates = append(candidates, names...)

	seen := make(map[string]struct{}, len(candidates))
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "www.")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func uniqueLinks(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := []string{}
	for _, l := range links {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		key := strings.ToLower(l)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}
