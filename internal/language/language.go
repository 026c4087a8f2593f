// Package language holds the catalog of caption languages a room can request.
package language

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Language describes one caption language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

// ErrUnknown is returned when a code is not in the catalog.
var ErrUnknown = errors.New("language: unknown code")

// Catalog is an immutable set of languages keyed by code.
type Catalog struct {
	byCode map[string]Language
}

// NewCatalog validates langs and builds a Catalog. Codes are lowercased;
// every language needs a code and a name, and codes must be unique.
func NewCatalog(langs []Language) (*Catalog, error) {
	if len(langs) == 0 {
		return nil, errors.New("language: empty catalog")
	}
	byCode := make(map[string]Language, len(langs))
	for i, l := range langs {
		l.Code = normalize(l.Code)
		l.Name = strings.TrimSpace(l.Name)
		if l.Code == "" {
			return nil, fmt.Errorf("language: entry %d has no code", i)
		}
		if l.Name == "" {
			return nil, fmt.Errorf("language: %q has no name", l.Code)
		}
		if _, dup := byCode[l.Code]; dup {
			return nil, fmt.Errorf("language: duplicate code %q", l.Code)
		}
		byCode[l.Code] = l
	}
	return &Catalog{byCode: byCode}, nil
}

// DefaultCatalog returns the built-in language set.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Language{
		{Code: "en", Name: "English", Flag: "🇺🇸"},
		{Code: "es", Name: "Spanish", Flag: "🇪🇸"},
		{Code: "fr", Name: "French", Flag: "🇫🇷"},
		{Code: "de", Name: "German", Flag: "🇩🇪"},
		{Code: "ja", Name: "Japanese", Flag: "🇯🇵"},
		{Code: "ar", Name: "Arabic", Flag: "🇸🇦"},
		{Code: "nl", Name: "Dutch", Flag: "🇳🇱"},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCatalogJSON builds a Catalog from either a JSON array of languages or
// an object mapping code to {name, flag}.
func ParseCatalogJSON(data []byte) (*Catalog, error) {
	var list []Language
	if err := json.Unmarshal(data, &list); err == nil {
		return NewCatalog(list)
	}

	var byCode map[string]struct {
		Name string `json:"name"`
		Flag string `json:"flag"`
	}
	if err := json.Unmarshal(data, &byCode); err != nil {
		return nil, fmt.Errorf("language: parse catalog: %w", err)
	}
	list = make([]Language, 0, len(byCode))
	for code, l := range byCode {
		list = append(list, Language{Code: code, Name: l.Name, Flag: l.Flag})
	}
	return NewCatalog(list)
}

// Lookup returns the language for code.
func (c *Catalog) Lookup(code string) (Language, error) {
	l, ok := c.byCode[normalize(code)]
	if !ok {
		return Language{}, fmt.Errorf("%w: %q", ErrUnknown, code)
	}
	return l, nil
}

// Has reports whether code is in the catalog.
func (c *Catalog) Has(code string) bool {
	_, ok := c.byCode[normalize(code)]
	return ok
}

// All returns every language sorted by code.
func (c *Catalog) All() []Language {
	out := make([]Language, 0, len(c.byCode))
	for _, l := range c.byCode {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Len returns the number of languages.
func (c *Catalog) Len() int {
	return len(c.byCode)
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
