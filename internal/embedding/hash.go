package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/zeebo/xxh3"
)

const defaultHashDims = 512

// numberFeature stands in for every numeric token so "15 + 27" and "3 + 4"
// share features.
const numberFeature = "<num>"

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "for": {}, "and": {}, "or": {}, "at": {},
	"what": {}, "how": {}, "why": {}, "who": {}, "when": {}, "which": {}, "does": {}, "do": {},
	"did": {}, "i": {}, "me": {}, "my": {}, "you": {}, "your": {}, "it": {}, "this": {},
	"that": {}, "with": {}, "can": {}, "about": {}, "by": {}, "from": {}, "as": {},
}

// HashEmbedder is a deterministic, offline embedder based on signed feature
// hashing of words and character trigrams.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a hash embedder with the given dimension (512 if 0).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dims() int { return e.dims }

func (e *HashEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make(Vector, e.dims)
	for _, tok := range tokenize(text) {
		e.add(v, "w:"+tok, 1)
		if tok == numberFeature || len([]rune(tok)) < 4 {
			continue
		}
		padded := []rune("^" + tok + "$")
		for i := 0; i+3 <= len(padded); i++ {
			e.add(v, "g:"+string(padded[i:i+3]), 0.5)
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v, nil
}

func (e *HashEmbedder) add(v Vector, feature string, weight float32) {
	h := xxh3.HashString(feature)
	idx := h % uint64(e.dims)
	if h>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// tokenize lower-cases text and splits it into words, numbers and single
// symbol tokens. Stopwords are dropped.
func tokenize(text string) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := b.String()
		b.Reset()
		if isNumber(tok) {
			out = append(out, numberFeature)
			return
		}
		if _, stop := stopwords[tok]; !stop {
			out = append(out, tok)
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' && b.Len() > 0 && isNumber(b.String()):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		case strings.ContainsRune("+-*/^=<>%√∫∑", r):
			flush()
			out = append(out, string(r))
		default:
			flush()
		}
	}
	flush()
	return out
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return true
}
