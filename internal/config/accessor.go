package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// toTree round-trips cfg through JSON so paths use the json field names.
func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// GetByPath returns the value at a dot path such as "server.port".
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var cur any = tree
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("invalid array index %q in %s", key, path)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", cur, key)
		}
	}
	return cur, nil
}

// SetByPath sets an existing leaf at a dot path. String values are coerced to
// bool or number when they parse as one.
func SetByPath(cfg *Config, path, value string) error {
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}
	keys := strings.Split(path, ".")
	node := tree
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			return fmt.Errorf("key not found: %s", path)
		}
		node = child
	}
	leaf := keys[len(keys)-1]
	if _, ok := node[leaf]; !ok {
		return fmt.Errorf("key not found: %s", path)
	}
	node[leaf] = coerce(value)

	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	next := *cfg
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	*cfg = next
	return nil
}

func coerce(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of the config with credentials masked.
func Sanitize(cfg *Config) *Config {
	copy := *cfg
	copy.Fetcher.ExtraArgs = append([]string(nil), cfg.Fetcher.ExtraArgs...)
	if copy.Slack.BotToken != "" {
		copy.Slack.BotToken = maskString(copy.Slack.BotToken)
	}
	if copy.Slack.SigningSecret != "" {
		copy.Slack.SigningSecret = maskString(copy.Slack.SigningSecret)
	}
	return &copy
}

// maskString keeps the first and last 4 characters of longer secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// Paths lists every leaf path in sorted order.
func Paths(cfg *Config) []string {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	var out []string
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(p, child)
				continue
			}
			out = append(out, p)
		}
	}
	walk("", tree)
	sort.Strings(out)
	return out
}
