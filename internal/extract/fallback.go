package extract

import (
	"strings"

	"github.com/tidwall/gjson"
)

var (
	answerKeys   = map[string]bool{"text": true, "output_text": true, "answer": true, "final": true, "completion": true}
	citationKeys = []string{"citation", "source", "url", "reference", "link"}
)

// extractJSON handles bodies that are a single JSON document rather than an
// event stream. The longest text-like field becomes the answer; URLs are
// taken from fields whose key suggests a citation.
func (e *Extractor) extractJSON(raw string) Result {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return Result{}
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() && !doc.IsArray() {
		return Result{}
	}

	var best string
	cites := newCitationSet()
	eachObject(doc, func(obj gjson.Result) {
		obj.ForEach(func(k, v gjson.Result) bool {
			key := strings.ToLower(k.String())
			if v.Type == gjson.String && answerKeys[key] {
				if t := strings.TrimSpace(v.Str); len(t) > len(best) {
					best = t
				}
			}
			if isCitationKey(key) {
				eachString(v, func(_ string, s string) {
					harvestString(s, cites)
				})
			}
			return true
		})
	})

	res := Result{Answer: best, Citations: cites.list(e.filter)}
	if !res.Empty() {
		res.Source = SourceJSON
	}
	return res
}

func isCitationKey(key string) bool {
	for _, frag := range citationKeys {
		if strings.Contains(key, frag) {
			return true
		}
	}
	return false
}
