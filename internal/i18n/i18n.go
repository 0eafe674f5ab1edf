// Package i18n resolves localized bot texts.
//
// Tables live in locales/<code>.yaml and are embedded in the binary. A key
// missing from the requested language falls back to the default language and
// then to the key itself, so a lookup never fails.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when a key or language is missing
const DefaultLanguage = "en-US"

//go:embed locales/*.yaml
var localeFS embed.FS

// Language describes a selectable locale
type Language struct {
	Code string
	Name string
}

// known locales in the order they are offered to users
var languages = []Language{
	{Code: "en-US", Name: "English"},
	{Code: "zh-TW", Name: "繁體中文"},
	{Code: "zh-CN", Name: "简体中文"},
	{Code: "ja-JP", Name: "日本語"},
}

// telegram language_code -> locale
var detectMap = map[string]string{
	"en":      "en-US",
	"zh":      "zh-TW",
	"zh-tw":   "zh-TW",
	"zh-hk":   "zh-TW",
	"zh-cn":   "zh-CN",
	"zh-hans": "zh-CN",
	"ja":      "ja-JP",
}

// Translator looks up localized strings
type Translator struct {
	tables      map[string]map[string]string
	defaultLang string
}

// New loads the embedded locale tables
func New() (*Translator, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("failed to read locales: %w", err)
	}

	tables := make(map[string]map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read locale %s: %w", e.Name(), err)
		}
		table, err := parseTable(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse locale %s: %w", e.Name(), err)
		}
		tables[strings.TrimSuffix(e.Name(), ".yaml")] = table
	}

	if _, ok := tables[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("default locale %s is missing", DefaultLanguage)
	}

	return NewFromTables(tables), nil
}

// NewFromTables builds a translator from flat key tables
func NewFromTables(tables map[string]map[string]string) *Translator {
	return &Translator{
		tables:      tables,
		defaultLang: DefaultLanguage,
	}
}

// T returns the text for key in lang with {param} placeholders replaced
func (t *Translator) T(key, lang string, params map[string]string) string {
	text, ok := t.lookup(key, lang)
	if !ok {
		text, ok = t.lookup(key, t.defaultLang)
	}
	if !ok {
		text = key
	}

	if len(params) == 0 {
		return text
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(params)*2)
	for _, name := range names {
		pairs = append(pairs, "{"+name+"}", params[name])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func (t *Translator) lookup(key, lang string) (string, bool) {
	table, ok := t.tables[lang]
	if !ok {
		return "", false
	}
	text, ok := table[key]
	return text, ok
}

// Supported returns the languages that have a table
func (t *Translator) Supported() []Language {
	out := make([]Language, 0, len(languages))
	for _, l := range languages {
		if _, ok := t.tables[l.Code]; ok {
			out = append(out, l)
		}
	}
	return out
}

// IsSupported reports whether code has a table
func (t *Translator) IsSupported(code string) bool {
	_, ok := t.tables[code]
	return ok
}

// Name returns the display name of a locale, or the code itself
func Name(code string) string {
	for _, l := range languages {
		if l.Code == code {
			return l.Name
		}
	}
	return code
}

// Detect maps a Telegram language_code to a supported locale
func (t *Translator) Detect(telegramCode string) string {
	code := strings.ToLower(strings.TrimSpace(telegramCode))
	if lang, ok := detectMap[code]; ok && t.IsSupported(lang) {
		return lang
	}
	if i := strings.IndexByte(code, '-'); i > 0 {
		if lang, ok := detectMap[code[:i]]; ok && t.IsSupported(lang) {
			return lang
		}
	}
	return t.defaultLang
}

func parseTable(data []byte) (map[string]string, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	table := make(map[string]string)
	flatten("", raw, table)
	return table, nil
}

func flatten(prefix string, node interface{}, out map[string]string) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, child := range v {
			flatten(join(prefix, k), child, out)
		}
	case map[interface{}]interface{}:
		for k, child := range v {
			flatten(join(prefix, fmt.Sprint(k)), child, out)
		}
	case nil:
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
