package gateway

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
)

const minimalYAML = `
bind_address: ":8080"
providers:
  good:
    type: dummy
models:
  test:
    routing: [good]
functions:
  basic_test:
    kind: chat
    variants:
      test:
        model: test
        weight: 1
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTempFile(t, "config.yaml", minimalYAML)

	reg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.BindAddress != ":8080" {
		t.Errorf("expected bind_address :8080, got %q", reg.BindAddress)
	}
	fn, ok := reg.Functions["basic_test"]
	if !ok {
		t.Fatal("expected function basic_test")
	}
	if len(fn.VariantOrder) != 1 || fn.VariantOrder[0] != "test" {
		t.Errorf("expected single sampleable variant %q, got %v", "test", fn.VariantOrder)
	}
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	_, err := LoadConfig("/tmp/does-not-exist-config-12345.yaml")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTempFile(t, "bad.yaml", "not: [valid")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadConfig_UnknownField(t *testing.T) {
	path := writeTempFile(t, "config.yaml", minimalYAML+"bogus_top_level_key: true\n")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := writeTempFile(t, "config.toml", "key = value")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestBuildRegistry_ModelRoutingReferencesUndeclaredProvider(t *testing.T) {
	raw := rawDoc{
		BindAddress: ":8080",
		Models:      map[string]rawModel{"m": {Routing: []string{"nope"}}},
	}
	_, err := BuildRegistry(raw)
	if err == nil {
		t.Fatal("expected error for undeclared provider in routing")
	}
	if kind := gatewayerrors.KindOf(err); kind != gatewayerrors.KindBadRequest {
		t.Errorf("expected KindBadRequest, got %v", kind)
	}
}

func TestBuildRegistry_ModelEmptyRouting(t *testing.T) {
	raw := rawDoc{
		BindAddress: ":8080",
		Models:      map[string]rawModel{"m": {}},
	}
	_, err := BuildRegistry(raw)
	if err == nil {
		t.Fatal("expected error for empty routing")
	}
}

func TestBuildRegistry_FunctionNoPositiveWeightVariant(t *testing.T) {
	raw := rawDoc{
		BindAddress: ":8080",
		Providers:   map[string]rawProvider{"good": {Type: "dummy"}},
		Models:      map[string]rawModel{"m": {Routing: []string{"good"}}},
		Functions: map[string]rawFunction{
			"f": {
				Kind: "chat",
				Variants: map[string]rawVariant{
					"a": {Model: "m", Weight: 0},
					"b": {Model: "m", Weight: 0},
				},
			},
		},
	}
	_, err := BuildRegistry(raw)
	if err == nil {
		t.Fatal("expected NO_VARIANT error")
	}
	if kind := gatewayerrors.KindOf(err); kind != gatewayerrors.KindNoVariant {
		t.Errorf("expected KindNoVariant, got %v", kind)
	}
}

func TestBuildRegistry_ChatFunctionRejectsOutputSchema(t *testing.T) {
	raw := rawDoc{
		BindAddress: ":8080",
		Providers:   map[string]rawProvider{"good": {Type: "dummy"}},
		Models:      map[string]rawModel{"m": {Routing: []string{"good"}}},
		Functions: map[string]rawFunction{
			"f": {
				Kind:         "chat",
				OutputSchema: []byte(`{"type":"object"}`),
				Variants:     map[string]rawVariant{"a": {Model: "m", Weight: 1}},
			},
		},
	}
	_, err := BuildRegistry(raw)
	if err == nil {
		t.Fatal("expected error: chat function may not declare output_schema")
	}
}

func TestBuildRegistry_JSONFunctionRequiresOutputSchema(t *testing.T) {
	raw := rawDoc{
		BindAddress: ":8080",
		Providers:   map[string]rawProvider{"good": {Type: "dummy"}},
		Models:      map[string]rawModel{"m": {Routing: []string{"good"}}},
		Functions: map[string]rawFunction{
			"f": {
				Kind:     "json",
				Variants: map[string]rawVariant{"a": {Model: "m", Weight: 1}},
			},
		},
	}
	_, err := BuildRegistry(raw)
	if err == nil {
		t.Fatal("expected error: json function requires output_schema")
	}
}

func TestBuildRegistry_ReservedToolNameRejected(t *testing.T) {
	raw := rawDoc{
		BindAddress: ":8080",
		Tools: map[string]rawTool{
			ImplicitToolName: {Parameters: []byte(`{"type":"object"}`)},
		},
	}
	_, err := BuildRegistry(raw)
	if err == nil {
		t.Fatal("expected error for reserved tool name")
	}
}

func TestBuildRegistry_TemplateRequiresSchema(t *testing.T) {
	raw := rawDoc{
		BindAddress: ":8080",
		Providers:   map[string]rawProvider{"good": {Type: "dummy"}},
		Models:      map[string]rawModel{"m": {Routing: []string{"good"}}},
		Functions: map[string]rawFunction{
			"f": {
				Kind: "chat",
				Variants: map[string]rawVariant{
					"a": {Model: "m", Weight: 1, Templates: rawRoleTemplates{System: "hi {{.name}}"}},
				},
			},
		},
	}
	_, err := BuildRegistry(raw)
	if err == nil {
		t.Fatal("expected error: system template without system_schema")
	}
}

func TestBuildRegistry_WeightPrefixSumsAreDeterministic(t *testing.T) {
	raw := rawDoc{
		BindAddress: ":8080",
		Providers:   map[string]rawProvider{"good": {Type: "dummy"}},
		Models:      map[string]rawModel{"m": {Routing: []string{"good"}}},
		Functions: map[string]rawFunction{
			"f": {
				Kind: "chat",
				Variants: map[string]rawVariant{
					"a": {Model: "m", Weight: 1},
					"b": {Model: "m", Weight: 3},
					"c": {Model: "m", Weight: 0},
				},
			},
		},
	}
	reg1, err := BuildRegistry(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg2, err := BuildRegistry(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fn1, fn2 := reg1.Functions["f"], reg2.Functions["f"]
	if len(fn1.VariantOrder) != 2 {
		t.Fatalf("expected 2 sampleable variants, got %d", len(fn1.VariantOrder))
	}
	for i := range fn1.VariantOrder {
		if fn1.VariantOrder[i] != fn2.VariantOrder[i] || fn1.WeightPrefixSums[i] != fn2.WeightPrefixSums[i] {
			t.Fatalf("prefix sums not deterministic across builds: %v/%v vs %v/%v",
				fn1.VariantOrder, fn1.WeightPrefixSums, fn2.VariantOrder, fn2.WeightPrefixSums)
		}
	}
	if fn1.WeightPrefixSums[len(fn1.WeightPrefixSums)-1] != 1 {
		t.Errorf("expected final prefix sum to be 1, got %v", fn1.WeightPrefixSums)
	}
}

func TestValidateConfig(t *testing.T) {
	path := writeTempFile(t, "config.yaml", minimalYAML)
	reg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateConfig(reg); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}
