package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Promote adds a named mixin carrying one constraint to the definition
// file at path. This is how a recurring override graduates into the
// taxonomy: attach the new mixin to the architectures that need it and
// drop the per-file annotations.
//
// The rewritten file is re-parsed before writing, so a promotion can never
// leave a registry behind that fails to load.
func Promote(path, intent string, c Constraint) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse registry: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	mixins, _ := doc["mixins"].(map[string]any)
	if mixins == nil {
		mixins = map[string]any{}
	}
	if _, exists := mixins[intent]; exists {
		return fmt.Errorf("mixin %q already exists in %s", intent, path)
	}
	mixins[intent] = map[string]any{
		"constraints": []any{
			map[string]any{"rule": c.Rule, "value": c.Value},
		},
	}
	doc["mixins"] = mixins

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if _, err := Parse(out); err != nil {
		return fmt.Errorf("promoted registry fails to load: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
