// internal/i18n/i18n.go
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

//go:embed locales/*.json
var bundled embed.FS

// Catalog holds message templates per language, falling back to a default
// language for missing keys.
type Catalog struct {
	mu       sync.RWMutex
	messages map[string]map[string]string
	fallback string
}

var (
	catalog *Catalog
	once    sync.Once
)

// Initialize loads every *.json locale from localesPath, or the bundled
// locales when localesPath is empty. Only the first call has any effect.
func Initialize(localesPath, defaultLang string) error {
	var err error
	once.Do(func() {
		var fsys fs.FS = os.DirFS(localesPath)
		if localesPath == "" {
			fsys, err = fs.Sub(bundled, "locales")
			if err != nil {
				return
			}
		}
		catalog, err = Load(fsys, defaultLang)
	})
	return err
}

// Load builds a catalog from the locale files in fsys. The file name without
// extension is the language tag.
func Load(fsys fs.FS, defaultLang string) (*Catalog, error) {
	if defaultLang == "" {
		defaultLang = "en"
	}
	files, err := fs.Glob(fsys, "*.json")
	if err != nil {
		return nil, err
	}

	c := &Catalog{messages: make(map[string]map[string]string, len(files)), fallback: defaultLang}
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", name, err)
		}
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode locale %s: %w", name, err)
		}
		c.messages[strings.TrimSuffix(path.Base(name), ".json")] = m
	}
	if _, ok := c.messages[defaultLang]; !ok {
		return nil, fmt.Errorf("default locale %q not found", defaultLang)
	}
	return c, nil
}

func (c *Catalog) lookup(lang, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if text, ok := c.messages[lang][key]; ok {
		return text, true
	}
	text, ok := c.messages[c.fallback][key]
	return text, ok
}

// T returns the message for key in lang, formatted with args. Unknown keys
// come back unchanged.
func (c *Catalog) T(lang, key string, args ...interface{}) string {
	text, ok := c.lookup(lang, key)
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(text, args...)
	}
	return text
}

func (c *Catalog) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	langs := make([]string, 0, len(c.messages))
	for lang := range c.messages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

func T(lang, key string, args ...interface{}) string {
	if catalog == nil {
		return key
	}
	return catalog.T(lang, key, args...)
}

func GetSupportedLanguages() []string {
	if catalog == nil {
		return []string{"en"}
	}
	return catalog.Languages()
}
