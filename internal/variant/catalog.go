package variant

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"transcoder/internal/services"
)

// Catalog is an immutable set of variant specs keyed by variant key.
type Catalog struct {
	specs map[string]Spec
	order []string
}

// New validates specs and builds a catalog. Later duplicates replace earlier ones.
func New(specs ...Spec) (Catalog, error) {
	cat := Catalog{specs: make(map[string]Spec, len(specs))}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return Catalog{}, err
		}
		if _, exists := cat.specs[spec.Key]; !exists {
			cat.order = append(cat.order, spec.Key)
		}
		cat.specs[spec.Key] = spec.clone()
	}
	return cat, nil
}

// Lookup returns the spec for key.
func (c Catalog) Lookup(key string) (Spec, bool) {
	spec, ok := c.specs[key]
	if !ok {
		return Spec{}, false
	}
	return spec.clone(), true
}

// MustLookup returns the spec for key or a configuration error.
func (c Catalog) MustLookup(key string) (Spec, error) {
	spec, ok := c.Lookup(key)
	if !ok {
		return Spec{}, services.Wrap(services.ErrConfiguration, "catalog", "lookup", fmt.Sprintf("transcode key %s not found", key), nil)
	}
	return spec, nil
}

// Keys returns variant keys in catalog order.
func (c Catalog) Keys() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of variants.
func (c Catalog) Len() int {
	return len(c.order)
}

// LoadFile applies TOML overrides from path on top of base. Each table under
// [variants."<key>"] either patches an existing spec field by field or
// defines a new one. A missing file is not an error.
func LoadFile(base Catalog, path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return base, nil
		}
		return Catalog{}, fmt.Errorf("read variants file: %w", err)
	}
	return Parse(base, data)
}

// Parse applies TOML overrides in data on top of base.
func Parse(base Catalog, data []byte) (Catalog, error) {
	var doc struct {
		Variants map[string]map[string]any `toml:"variants"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Catalog{}, services.Wrap(services.ErrConfiguration, "catalog", "parse", "variants file", err)
	}

	keys := make([]string, 0, len(doc.Variants))
	for key := range doc.Variants {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	specs := make([]Spec, 0, base.Len()+len(keys))
	for _, key := range base.order {
		specs = append(specs, base.specs[key])
	}
	index := make(map[string]int, len(specs))
	for i, spec := range specs {
		index[spec.Key] = i
	}

	for _, key := range keys {
		patch, err := toml.Marshal(doc.Variants[key])
		if err != nil {
			return Catalog{}, services.Wrap(services.ErrConfiguration, "catalog", key, "encode override", err)
		}
		spec := Spec{Key: key}
		if i, ok := index[key]; ok {
			spec = specs[i].clone()
		}
		decoder := toml.NewDecoder(strings.NewReader(string(patch)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&spec); err != nil {
			return Catalog{}, services.Wrap(services.ErrConfiguration, "catalog", key, "decode override", err)
		}
		spec.Key = key
		if i, ok := index[key]; ok {
			specs[i] = spec
		} else {
			index[key] = len(specs)
			specs = append(specs, spec)
		}
	}
	return New(specs...)
}

// Enabled returns the enabled keys that exist in the catalog, video first.
func (c Catalog) Enabled(video, audio []string) []string {
	out := make([]string, 0, len(video)+len(audio))
	seen := make(map[string]struct{})
	for _, key := range append(append([]string{}, video...), audio...) {
		if _, ok := c.specs[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

var formatOrder = map[string]int{
	"vp9": 0, "vp8": 1, "h264": 2, "theora": 3, "mjpeg": 4, "opus": 5, "mp3": 6, "vorbis": 7, "aac": 8,
}

// SortForDisplay orders keys by codec family and then by descending natural
// key order, so higher resolutions of the same codec come first.
func (c Catalog) SortForDisplay(keys []string) []string {
	out := append([]string(nil), keys...)
	codecOf := func(key string) string {
		if spec, ok := c.specs[key]; ok {
			return spec.Codec()
		}
		return key
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aok := formatOrder[codecOf(out[i])]
		bi, bok := formatOrder[codecOf(out[j])]
		switch {
		case aok && bok && ai != bi:
			return ai < bi
		case aok && !bok:
			return true
		case !aok && bok:
			return false
		}
		return naturalLess(out[j], out[i])
	})
	return out
}

// naturalLess compares strings treating digit runs as numbers.
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		da, db := isDigit(a[0]), isDigit(b[0])
		if da && db {
			na, ra := leadingNumber(a)
			nb, rb := leadingNumber(b)
			if na != nb {
				return na < nb
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func leadingNumber(s string) (int, string) {
	n, i := 0, 0
	for i < len(s) && isDigit(s[i]) {
		n = n*10 + int(s[i]-'0')
		i++
	}
	return n, s[i:]
}

func (s Spec) clone() Spec {
	out := s
	if s.RemuxFrom != nil {
		out.RemuxFrom = append([]string(nil), s.RemuxFrom...)
	}
	out.CRF = cloneInt(s.CRF)
	out.AudioQuality = cloneInt(s.AudioQuality)
	out.Speed = cloneInt(s.Speed)
	out.TileColumns = cloneInt(s.TileColumns)
	out.Slices = cloneInt(s.Slices)
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
