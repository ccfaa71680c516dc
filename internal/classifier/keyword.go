package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	wholeWordWeight = 2
	substringWeight = 1
)

// Keyword scores subjects by counting curated keywords in the lower-cased
// query.
type Keyword struct {
	subjects []Subject
	order    []string
	topK     int
}

// NewKeyword builds a keyword classifier.
func NewKeyword(subjects []Subject, topK int) *Keyword {
	if topK <= 0 {
		topK = defaultFallbackTopK
	}
	return &Keyword{subjects: subjects, order: names(subjects), topK: topK}
}

func (k *Keyword) Subjects() []string { return append([]string(nil), k.order...) }

func (k *Keyword) Classify(ctx context.Context, query string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	raw, matched := k.score(query)
	if len(matched) == 0 {
		return finish(k.order, nil, k.topK, StrategyKeyword,
			fmt.Sprintf("no keyword matched; uniform over %d subjects", len(k.order))), nil
	}
	res := finish(k.order, raw, k.topK, StrategyKeyword, "")
	hits := matched[res.PredictedSubject]
	sort.Strings(hits)
	res.Reasoning = fmt.Sprintf("keywords for %s: %s", res.PredictedSubject, strings.Join(hits, ", "))
	return res, nil
}

func (k *Keyword) score(query string) (map[string]float64, map[string][]string) {
	q := strings.ToLower(query)
	raw := make(map[string]float64, len(k.subjects))
	matched := make(map[string][]string)
	if strings.TrimSpace(q) == "" {
		return raw, matched
	}
	for _, s := range k.subjects {
		for _, kw := range s.Keywords {
			if w := occurrences(q, kw); w > 0 {
				raw[s.Name] += float64(w)
				matched[s.Name] = append(matched[s.Name], kw)
			}
		}
	}
	return raw, matched
}

// occurrences returns the weighted count of kw in q: whole-word hits count
// double.
func occurrences(q, kw string) int {
	if kw == "" {
		return 0
	}
	total := 0
	for from := 0; from < len(q); {
		i := strings.Index(q[from:], kw)
		if i < 0 {
			break
		}
		start := from + i
		end := start + len(kw)
		if boundaryBefore(q, start) && boundaryAfter(q, end) {
			total += wholeWordWeight
		} else {
			total += substringWeight
		}
		from = end
	}
	return total
}

func boundaryBefore(q string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(q[:i])
	return !isWordRune(r)
}

func boundaryAfter(q string, i int) bool {
	if i >= len(q) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(q[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' }
