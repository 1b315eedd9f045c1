package cookies

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/xkilldash9x/sessiongate/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SaveFile writes cs to path as an indented JSON array. A leading "~" in path
// is expanded to the user's home directory.
func SaveFile(path string, cs []Cookie) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("failed to expand cookie file path: %w", err)
	}
	if cs == nil {
		cs = []Cookie{}
	}
	data, err := json.MarshalIndent(cs, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	if dir := filepath.Dir(expanded); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create cookie file directory: %w", err)
		}
	}
	// Cookie values are session credentials.
	if err := os.WriteFile(expanded, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookie file %s: %w", expanded, err)
	}
	return nil
}

// LoadFile reads a cookie array written by SaveFile.
func LoadFile(path string) ([]Cookie, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand cookie file path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file %s: %w", expanded, err)
	}
	var cs []Cookie
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("failed to decode cookie file %s: %w", expanded, err)
	}
	for i, c := range cs {
		if c.Name == "" {
			return nil, fmt.Errorf("cookie file %s: entry %d has no name", expanded, i)
		}
	}
	return cs, nil
}

// Describe renders cs as a readable listing. Values are masked unless showValues is set.
func Describe(cs []Cookie, showValues bool) string {
	var b strings.Builder
	b.WriteString("=== COOKIES ===\n")
	for _, c := range cs {
		value := observability.Mask(c.Value)
		if showValues {
			value = c.Value
		}
		fmt.Fprintf(&b, "Name: %s\nValue: %s\nDomain: %s\nPath: %s\nSecure: %t\n", c.Name, value, c.Domain, c.Path, c.Secure)
		b.WriteString(strings.Repeat("-", 50))
		b.WriteString("\n")
	}
	return b.String()
}
