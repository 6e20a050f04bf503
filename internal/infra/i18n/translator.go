package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

const DefaultLang = "en"

type Translator struct {
	translations map[string]string
}

// NewTranslator loads locales/<langCode>.yaml from fsys.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", fmt.Sprintf("%s.yaml", langCode))
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	return newTranslatorFromBytes(data)
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

// T returns the message for key formatted with args, or key itself when the
// message is missing.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Catalog holds one translator per supported language.
type Catalog struct {
	langs map[string]*Translator
}

// NewCatalog loads every language in langs from fsys. The default language is
// always loaded.
func NewCatalog(fsys fs.FS, langs ...string) (*Catalog, error) {
	c := &Catalog{langs: map[string]*Translator{}}
	for _, l := range append([]string{DefaultLang}, langs...) {
		l = strings.ToLower(strings.TrimSpace(l))
		if _, ok := c.langs[l]; ok || l == "" {
			continue
		}
		tr, err := NewTranslator(fsys, l)
		if err != nil {
			return nil, err
		}
		c.langs[l] = tr
	}
	return c, nil
}

// For picks the best translator for an Accept-Language header value, falling
// back to the default language.
func (c *Catalog) For(acceptLanguage string) *Translator {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		if tag == "" {
			continue
		}
		if tr, ok := c.langs[tag]; ok {
			return tr
		}
		if base, _, found := strings.Cut(tag, "-"); found {
			if tr, ok := c.langs[base]; ok {
				return tr
			}
		}
	}
	return c.langs[DefaultLang]
}
