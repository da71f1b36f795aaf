package lang

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultFile []byte

var (
	mu       sync.RWMutex
	messages map[string]string
	fallback map[string]string
)

// Load reads a translation file. An empty path selects the built-in file.
// Keys missing from the active language fall back to the built-in English text.
func Load(path string) error {
	data := defaultFile
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
	return LoadBytes(data)
}

func LoadBytes(data []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse translations: %w", err)
	}

	activeLang := "en"
	if v, ok := raw["active_language"].(string); ok && v != "" {
		activeLang = v
	}

	block, ok := raw[activeLang]
	if !ok {
		slog.Warn("language not found, falling back to en", "language", activeLang)
		activeLang = "en"
		block = raw[activeLang]
	}

	blockMap, _ := block.(map[string]interface{})
	m := make(map[string]string, len(blockMap))
	for k, v := range blockMap {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}

	mu.Lock()
	messages = m
	mu.Unlock()

	slog.Info("translations loaded", "language", activeLang, "keys", len(m))
	return nil
}

func builtin() map[string]string {
	mu.Lock()
	defer mu.Unlock()
	if fallback != nil {
		return fallback
	}
	var raw struct {
		En map[string]string `yaml:"en"`
	}
	_ = yaml.Unmarshal(defaultFile, &raw)
	fallback = raw.En
	return fallback
}

// T looks key up and substitutes {name} placeholders from name/value pairs.
func T(key string, pairs ...string) string {
	mu.RLock()
	s, ok := messages[key]
	mu.RUnlock()

	if !ok {
		s, ok = builtin()[key]
	}
	if !ok {
		return "{" + key + "}"
	}

	for j := 0; j+1 < len(pairs); j += 2 {
		s = strings.ReplaceAll(s, "{"+pairs[j]+"}", pairs[j+1])
	}
	return s
}
