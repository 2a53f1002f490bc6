package extract

import (
	"regexp"
	"strings"

	"github.com/dgnsrekt/chatcap/internal/storage"
	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/tidwall/gjson"
)

var urlRe = regexp.MustCompile("https?://[^\\s<>'\"`]+")

const (
	wrapChars     = "<>\"'()[]{}"
	trailingChars = ".,;:!?)\"]}'"
)

// CleanURL strips wrapping brackets and quotes and trailing sentence
// punctuation. It returns "" when what remains is not an http(s) URL.
func CleanURL(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		prev := s
		s = strings.TrimRight(strings.Trim(s, wrapChars), trailingChars)
		if s == prev {
			break
		}
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return ""
	}
	if storage.HostOf(s) == "" {
		return ""
	}
	return s
}

// Filter drops citations pointing back at the application itself or its
// static asset hosts.
type Filter struct {
	hosts     []string
	fragments []string
}

func NewFilter(hosts, fragments []string) Filter {
	f := Filter{}
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			f.hosts = append(f.hosts, strings.TrimPrefix(h, "www."))
		}
	}
	for _, fr := range fragments {
		if fr = strings.ToLower(strings.TrimSpace(fr)); fr != "" {
			f.fragments = append(f.fragments, fr)
		}
	}
	return f
}

// Excluded reports whether url belongs to an excluded host or contains an
// excluded fragment.
func (f Filter) Excluded(url string) bool {
	host := storage.HostOf(url)
	for _, h := range f.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	lower := strings.ToLower(url)
	for _, fr := range f.fragments {
		if strings.Contains(lower, fr) {
			return true
		}
	}
	return false
}

// provenanceRank orders provenance by confidence.
func provenanceRank(p types.Provenance) int {
	switch p {
	case types.ProvenanceSearchResult:
		return 3
	case types.ProvenanceField:
		return 2
	case types.ProvenanceText:
		return 1
	}
	return 0
}

// citationSet keeps cleaned URLs in first-seen order. Later sightings of a
// URL only fill in missing metadata or raise its provenance.
type citationSet struct {
	order []types.Citation
	index map[string]int
}

func newCitationSet() *citationSet {
	return &citationSet{index: make(map[string]int)}
}

func (s *citationSet) add(c types.Citation) {
	c.URL = CleanURL(c.URL)
	if c.URL == "" {
		return
	}
	i, ok := s.index[c.URL]
	if !ok {
		s.index[c.URL] = len(s.order)
		s.order = append(s.order, c)
		return
	}
	cur := &s.order[i]
	if cur.Title == "" {
		cur.Title = c.Title
	}
	if cur.Snippet == "" {
		cur.Snippet = c.Snippet
	}
	if provenanceRank(c.Provenance) > provenanceRank(cur.Provenance) {
		cur.Provenance = c.Provenance
		cur.Field = c.Field
	}
}

func (s *citationSet) merge(other *citationSet) {
	for _, c := range other.order {
		s.add(c)
	}
}

func (s *citationSet) list(filter Filter) []types.Citation {
	out := make([]types.Citation, 0, len(s.order))
	for _, c := range s.order {
		if filter.Excluded(c.URL) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// harvest runs the three citation passes over one payload: structured
// search results first, then URL-named fields, then any URL-shaped text.
func (s *citationSet) harvest(node gjson.Result) {
	harvestSearchResults(node, s)
	harvestFields(node, s)
	harvestText(node, s)
}

func harvestSearchResults(node gjson.Result, s *citationSet) {
	eachObject(node, func(obj gjson.Result) {
		if t, _ := str(obj, "type"); t != "search_result" {
			return
		}
		url, ok := str(obj, "url")
		if !ok {
			return
		}
		s.add(types.Citation{
			URL:        url,
			Title:      metaTitle(obj),
			Snippet:    metaSnippet(obj),
			Provenance: types.ProvenanceSearchResult,
		})
	})
}

func harvestFields(node gjson.Result, s *citationSet) {
	eachObject(node, func(obj gjson.Result) {
		obj.ForEach(func(k, v gjson.Result) bool {
			key := k.String()
			if v.Type != gjson.String || !isURLKey(key) {
				return true
			}
			s.add(types.Citation{
				URL:        v.Str,
				Title:      metaTitle(obj),
				Snippet:    metaSnippet(obj),
				Provenance: types.ProvenanceField,
				Field:      key,
			})
			return true
		})
	})
}

func harvestText(node gjson.Result, s *citationSet) {
	eachString(node, func(_ string, text string) {
		harvestString(text, s)
	})
}

func harvestString(text string, s *citationSet) {
	if !strings.Contains(text, "http") {
		return
	}
	for _, m := range urlRe.FindAllString(text, -1) {
		s.add(types.Citation{URL: m, Provenance: types.ProvenanceText})
	}
}

func isURLKey(key string) bool {
	k := strings.ToLower(key)
	return strings.HasSuffix(k, "url") || strings.HasSuffix(k, "uri") || k == "href" || k == "link"
}

func metaTitle(obj gjson.Result) string {
	t, _ := str(obj, "title")
	return strings.TrimSpace(t)
}

func metaSnippet(obj gjson.Result) string {
	for _, key := range []string{"snippet", "attribution"} {
		if v, ok := str(obj, key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
