package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"modelrouter/internal/common/fsutil"
)

// Source identifies what a cached blob was produced from. The cache key
// changes whenever the source file changes on disk or the metadata differs.
type Source struct {
	Location string
	Format   string
	Metadata map[string]string
}

// Key computes the cache key for modelID and src.
func Key(modelID string, src Source) string {
	// a missing source yields a zero stamp and therefore a different key
	st, _ := fsutil.StatStamp(src.Location)
	var b strings.Builder
	b.WriteString(modelID)
	b.WriteByte(0)
	b.WriteString(src.Location)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(st.ModTime.UnixNano(), 10))
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(st.Size, 10))
	b.WriteByte(0)
	b.WriteString(src.Format)
	keys := make([]string, 0, len(src.Metadata))
	for k := range src.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(src.Metadata[k])
	}
	h := xxh3.HashString128(b.String())
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
