package extract

import (
	"sort"
	"strings"
)

// Profile tunes content extraction for one language.
type Profile struct {
	Language string
	// Stopwords is the lowercase stoplist used to measure prose density.
	Stopwords map[string]struct{}
	// LengthLow is the rune count under which a paragraph is considered short.
	LengthLow int
	// LengthHigh is the rune count above which dense prose is accepted outright.
	LengthHigh int
	// StopwordsLow and StopwordsHigh bound the stopword density bands.
	StopwordsLow  float64
	StopwordsHigh float64
	// MaxLinkDensity rejects paragraphs whose text is mostly anchors.
	MaxLinkDensity float64
}

// Catalog maps ISO 639-1 language codes to extraction profiles.
type Catalog struct {
	profiles map[string]Profile
}

// NewCatalog builds a catalog restricted to codes. With no codes every
// built-in profile is available. Unknown codes are ignored.
func NewCatalog(codes ...string) *Catalog {
	c := &Catalog{profiles: make(map[string]Profile)}
	if len(codes) == 0 {
		for code := range stoplists {
			c.profiles[code] = newProfile(code)
		}
		return c
	}
	for _, code := range codes {
		code = strings.ToLower(strings.TrimSpace(code))
		if _, ok := stoplists[code]; ok {
			c.profiles[code] = newProfile(code)
		}
	}
	return c
}

// Lookup returns the profile registered for code.
func (c *Catalog) Lookup(code string) (Profile, bool) {
	if c == nil {
		return Profile{}, false
	}
	p, ok := c.profiles[strings.ToLower(code)]
	return p, ok
}

// Languages lists the codes in the catalog, sorted.
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.profiles))
	for code := range c.profiles {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// BuiltinLanguages lists every code a catalog can be built with.
func BuiltinLanguages() []string {
	out := make([]string, 0, len(stoplists))
	for code := range stoplists {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func newProfile(code string) Profile {
	words := strings.Fields(stoplists[code])
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return Profile{
		Language:       code,
		Stopwords:      set,
		LengthLow:      70,
		LengthHigh:     200,
		StopwordsLow:   0.30,
		StopwordsHigh:  0.32,
		MaxLinkDensity: 0.2,
	}
}
