package credential

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// credentialsFile mirrors the mapping form of a credentials file.
//
// Example (YAML):
//
//	credentials:
//	  - sk_live_aaaa
//	  - sk_live_bbbb
type credentialsFile struct {
	Credentials []string `yaml:"credentials"`
}

// LoadFile reads tokens from path. Accepted formats: a YAML mapping with a
// credentials list, a bare YAML list, or one token per line ('#' comments).
func LoadFile(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("credentials file path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return Parse(b)
}

// Parse decodes credentials file contents.
func Parse(b []byte) ([]string, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err == nil && len(node.Content) > 0 {
		switch node.Content[0].Kind {
		case yaml.MappingNode:
			var f credentialsFile
			if err := node.Decode(&f); err != nil {
				return nil, fmt.Errorf("parse credentials YAML: %w", err)
			}
			return clean(f.Credentials), nil
		case yaml.SequenceNode:
			var list []string
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("parse credentials YAML list: %w", err)
			}
			return clean(list), nil
		}
	}

	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read credentials lines: %w", err)
	}
	return out, nil
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
