package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// readSource returns the config at path as JSON for the strict decoder.
// ${NAME} references are replaced from the environment first, so secrets such
// as irc.token can stay out of the file. YAML files are converted to JSON.
func readSource(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded, err := expandEnv(raw, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(expanded, &doc); err != nil {
			return nil, fmt.Errorf("%s: yaml: %w", filepath.Base(path), err)
		}
		doc, err = stringKeys(doc, "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		return json.Marshal(doc)
	default:
		return expanded, nil
	}
}

// expandEnv replaces every reference in b. Unset names without a fallback
// are reported together.
func expandEnv(b []byte, lookup func(string) (string, bool)) ([]byte, error) {
	var missing []string
	out := envRef.ReplaceAllFunc(b, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		name := string(m[1])
		if v, ok := lookup(name); ok {
			return []byte(v)
		}
		if strings.Contains(string(ref), ":-") {
			return m[2]
		}
		if !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return nil
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("unset environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// stringKeys makes a decoded YAML tree JSON-encodable. Keys must be strings:
// "1: x" under a section is a typo, not a config key.
func stringKeys(v any, at string) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			c, err := stringKeys(child, join(at, k))
			if err != nil {
				return nil, err
			}
			x[k] = c
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, child := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%s: key %v is not a string", orRoot(at), k)
			}
			c, err := stringKeys(child, join(at, ks))
			if err != nil {
				return nil, err
			}
			m[ks] = c
		}
		return m, nil
	case []any:
		for i := range x {
			c, err := stringKeys(x[i], fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			x[i] = c
		}
		return x, nil
	default:
		return v, nil
	}
}

func join(at, key string) string {
	if at == "" {
		return key
	}
	return at + "." + key
}

func orRoot(at string) string {
	if at == "" {
		return "top level"
	}
	return at
}

// fingerprint identifies a config's content; "" when it cannot be encoded.
func fingerprint(cfg *Config) string {
	if cfg == nil {
		return ""
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
