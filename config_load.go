package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
	"github.com/ferro-labs/inference-gateway/internal/prompt"
	"github.com/ferro-labs/inference-gateway/internal/schema"
	"gopkg.in/yaml.v3"
)

// rawDoc is the on-disk shape of a config document: a sectioned document of
// tables keyed by name, per SPEC_FULL.md §6 "Configuration format". It is
// parsed once by LoadConfig and converted into a typed, validated *Registry
// by BuildRegistry; nothing downstream of BuildRegistry ever sees rawDoc.
type rawDoc struct {
	BindAddress     string                           `json:"bind_address" yaml:"bind_address"`
	Providers       map[string]rawProvider           `json:"providers" yaml:"providers"`
	Models          map[string]rawModel              `json:"models" yaml:"models"`
	Tools           map[string]rawTool               `json:"tools" yaml:"tools"`
	Functions       map[string]rawFunction           `json:"functions" yaml:"functions"`
	Metrics         map[string]rawMetric             `json:"metrics" yaml:"metrics"`
	Plugins         []PluginConfig                   `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	CircuitBreakers map[string]CircuitBreakerConfig  `json:"circuit_breakers,omitempty" yaml:"circuit_breakers,omitempty"`
}

type rawProvider struct {
	Type         string `json:"type" yaml:"type"`
	Endpoint     string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	DeploymentID string `json:"deployment_id,omitempty" yaml:"deployment_id,omitempty"`
	Region       string `json:"region,omitempty" yaml:"region,omitempty"`
	ModelID      string `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	ProjectID    string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	// APIKey is either a literal value or, conventionally, "env:VAR_NAME" to
	// read the credential from the environment at load time so it never
	// appears in the config file on disk.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// AlwaysFail applies only to type: dummy, for exercising failover and
	// circuit-breaker behavior in integration tests without a real upstream.
	AlwaysFail bool `json:"always_fail,omitempty" yaml:"always_fail,omitempty"`
}

type rawModel struct {
	Routing []string `json:"routing" yaml:"routing"`
}

type rawTool struct {
	Description string          `json:"description" yaml:"description"`
	Parameters  json.RawMessage `json:"parameters" yaml:"parameters"`
}

type rawFunction struct {
	Kind              string                `json:"kind" yaml:"kind"`
	SystemSchema      json.RawMessage       `json:"system_schema,omitempty" yaml:"system_schema,omitempty"`
	UserSchema        json.RawMessage       `json:"user_schema,omitempty" yaml:"user_schema,omitempty"`
	AssistantSchema   json.RawMessage       `json:"assistant_schema,omitempty" yaml:"assistant_schema,omitempty"`
	OutputSchema      json.RawMessage       `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Tools             []string              `json:"tools,omitempty" yaml:"tools,omitempty"`
	ToolChoice        string                `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty"`
	ParallelToolCalls bool                  `json:"parallel_tool_calls,omitempty" yaml:"parallel_tool_calls,omitempty"`
	TimeoutSeconds    int                   `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Variants          map[string]rawVariant `json:"variants" yaml:"variants"`
}

type rawVariant struct {
	Model     string            `json:"model" yaml:"model"`
	Weight    float64           `json:"weight" yaml:"weight"`
	JSONMode  string            `json:"json_mode,omitempty" yaml:"json_mode,omitempty"`
	Templates rawRoleTemplates  `json:"templates,omitempty" yaml:"templates,omitempty"`
	Params    rawSamplingParams `json:"params,omitempty" yaml:"params,omitempty"`
}

type rawRoleTemplates struct {
	System    string `json:"system,omitempty" yaml:"system,omitempty"`
	User      string `json:"user,omitempty" yaml:"user,omitempty"`
	Assistant string `json:"assistant,omitempty" yaml:"assistant,omitempty"`
}

type rawSamplingParams struct {
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Seed        *int64   `json:"seed,omitempty" yaml:"seed,omitempty"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
}

type rawMetric struct {
	Type     string `json:"type" yaml:"type"`
	Optimize string `json:"optimize" yaml:"optimize"`
	Level    string `json:"level" yaml:"level"`
}

// LoadConfig reads, parses, and validates a config file from the given
// path, returning a ready-to-use *Registry. Supported formats: JSON (.json),
// YAML (.yaml, .yml). Unknown keys are rejected at the parse step.
//
// Failures here are fatal: per SPEC_FULL.md §2/§4.A, the gateway refuses to
// start rather than run against a partially valid configuration.
func LoadConfig(path string) (*Registry, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var raw rawDoc
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return BuildRegistry(raw)
}

// BuildRegistry converts a parsed rawDoc into a validated, immutable
// *Registry, performing every check in SPEC_FULL.md §4.A's validation
// sequence (schema compilation, cross-reference resolution, role/template
// coherence, routing non-emptiness, variant weight prefix sums).
func BuildRegistry(raw rawDoc) (*Registry, error) {
	reg := &Registry{
		BindAddress:     raw.BindAddress,
		Functions:       make(map[string]*Function, len(raw.Functions)),
		Models:          make(map[string]*Model, len(raw.Models)),
		Providers:       make(map[string]ProviderConfig, len(raw.Providers)),
		Tools:           make(map[string]*Tool, len(raw.Tools)),
		Metrics:         make(map[string]*Metric, len(raw.Metrics)),
		CircuitBreakers: raw.CircuitBreakers,
		Plugins:         raw.Plugins,
	}

	for name, p := range raw.Providers {
		pc, err := buildProviderConfig(name, p)
		if err != nil {
			return nil, err
		}
		reg.Providers[name] = pc
	}

	for name, m := range raw.Models {
		if len(m.Routing) == 0 {
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "model %q: routing must be non-empty", name)
		}
		for _, p := range m.Routing {
			if _, ok := reg.Providers[p]; !ok {
				return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "model %q: routing references undeclared provider %q", name, p)
			}
		}
		reg.Models[name] = &Model{Name: name, Routing: append([]string(nil), m.Routing...)}
	}

	for name, t := range raw.Tools {
		if name == ImplicitToolName {
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "tool %q: name is reserved for implicit_tool json mode", name)
		}
		compiled, err := schema.Compile("tool."+name+".parameters", t.Parameters)
		if err != nil {
			return nil, gatewayerrors.New(gatewayerrors.KindBadRequest, fmt.Errorf("tool %q: %w", name, err))
		}
		reg.Tools[name] = &Tool{Name: name, Description: t.Description, Parameters: compiled}
	}

	for name, m := range raw.Metrics {
		metric, err := buildMetric(name, m)
		if err != nil {
			return nil, err
		}
		reg.Metrics[name] = metric
	}

	for name, f := range raw.Functions {
		fn, err := buildFunction(name, f, reg)
		if err != nil {
			return nil, err
		}
		reg.Functions[name] = fn
	}

	return reg, nil
}

func buildProviderConfig(name string, p rawProvider) (ProviderConfig, error) {
	cred := NewCredentialRef(resolveCredential(p.APIKey))
	pt := ProviderType(p.Type)
	switch pt {
	case ProviderOpenAI, ProviderAnthropic, ProviderMistral, ProviderFireworks,
		ProviderTogether, ProviderVLLM, ProviderDummy:
	case ProviderAzure:
		if p.DeploymentID == "" || p.Endpoint == "" {
			return ProviderConfig{}, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "provider %q: azure requires endpoint and deployment_id", name)
		}
	case ProviderBedrock:
		if p.Region == "" {
			return ProviderConfig{}, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "provider %q: bedrock requires region", name)
		}
	case ProviderVertex:
		if p.Region == "" || p.ProjectID == "" {
			return ProviderConfig{}, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "provider %q: vertex requires region and project_id", name)
		}
	default:
		return ProviderConfig{}, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "provider %q: unknown type %q", name, p.Type)
	}
	return ProviderConfig{
		Name:         name,
		Type:         pt,
		Endpoint:     p.Endpoint,
		DeploymentID: p.DeploymentID,
		Region:       p.Region,
		ModelID:      p.ModelID,
		ProjectID:    p.ProjectID,
		Credentials:  cred,
		AlwaysFail:   p.AlwaysFail,
	}, nil
}

// resolveCredential reads "env:VAR" references from the environment so
// secrets never need to be written to the config file on disk; any other
// value is treated as a literal (useful for the dummy provider and tests).
func resolveCredential(raw string) string {
	if v, ok := strings.CutPrefix(raw, "env:"); ok {
		return os.Getenv(v)
	}
	return raw
}

func buildMetric(name string, m rawMetric) (*Metric, error) {
	mt := MetricType(m.Type)
	if mt != MetricBoolean && mt != MetricFloat {
		return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "metric %q: unknown type %q", name, m.Type)
	}
	opt := MetricOptimize(m.Optimize)
	if opt != OptimizeMin && opt != OptimizeMax {
		return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "metric %q: unknown optimize %q", name, m.Optimize)
	}
	lvl := MetricLevel(m.Level)
	if lvl != LevelInference && lvl != LevelEpisode {
		return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "metric %q: unknown level %q", name, m.Level)
	}
	return &Metric{Name: name, Type: mt, Optimize: opt, Level: lvl}, nil
}

func buildFunction(name string, f rawFunction, reg *Registry) (*Function, error) {
	kind := FunctionKind(f.Kind)
	if kind != KindChat && kind != KindJSON {
		return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q: unknown kind %q", name, f.Kind)
	}

	fn := &Function{
		Name:              name,
		Kind:              kind,
		Tools:             append([]string(nil), f.Tools...),
		ToolChoice:        ToolChoiceMode(orDefault(f.ToolChoice, string(ToolChoiceAuto))),
		ParallelToolCalls: f.ParallelToolCalls,
		Variants:          make(map[string]*Variant, len(f.Variants)),
	}
	if f.TimeoutSeconds > 0 {
		fn.Timeout = time.Duration(f.TimeoutSeconds) * time.Second
	} else {
		fn.Timeout = DefaultTimeout
	}

	if kind == KindChat && len(f.OutputSchema) > 0 {
		return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q: chat functions may not declare output_schema", name)
	}
	if kind == KindJSON && len(f.OutputSchema) == 0 {
		return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q: json functions require output_schema", name)
	}

	var err error
	if fn.SystemSchema, err = compileOptional(name, "system_schema", f.SystemSchema); err != nil {
		return nil, err
	}
	if fn.UserSchema, err = compileOptional(name, "user_schema", f.UserSchema); err != nil {
		return nil, err
	}
	if fn.AssistantSchema, err = compileOptional(name, "assistant_schema", f.AssistantSchema); err != nil {
		return nil, err
	}
	if fn.OutputSchema, err = compileOptional(name, "output_schema", f.OutputSchema); err != nil {
		return nil, err
	}

	for _, t := range fn.Tools {
		if _, ok := reg.Tools[t]; !ok {
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q: references undeclared tool %q", name, t)
		}
	}

	if len(f.Variants) == 0 {
		return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q: at least one variant is required", name)
	}

	var total float64
	order := make([]string, 0, len(f.Variants))
	for vname, rv := range f.Variants {
		if rv.Weight < 0 {
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q variant %q: negative weight", name, vname)
		}
		if _, ok := reg.Models[rv.Model]; !ok {
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q variant %q: references undeclared model %q", name, vname, rv.Model)
		}
		jm := JSONMode(orDefault(rv.JSONMode, string(JSONModeOff)))
		switch jm {
		case JSONModeOff, JSONModeOn, JSONModeStrict, JSONModeImplicitTool:
		default:
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q variant %q: unknown json_mode %q", name, vname, rv.JSONMode)
		}
		if jm != JSONModeOff && kind != KindJSON {
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q variant %q: json_mode is only meaningful for json functions", name, vname)
		}

		if rv.Templates.System != "" && fn.SystemSchema == nil {
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q variant %q: system template requires system_schema", name, vname)
		}
		if rv.Templates.User != "" && fn.UserSchema == nil {
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q variant %q: user template requires user_schema", name, vname)
		}
		if rv.Templates.Assistant != "" && fn.AssistantSchema == nil {
			return nil, gatewayerrors.Newf(gatewayerrors.KindBadRequest, "function %q variant %q: assistant template requires assistant_schema", name, vname)
		}
		tmpl, err := compileTemplates(name, vname, rv.Templates)
		if err != nil {
			return nil, err
		}

		v := &Variant{
			Name:      vname,
			Model:     rv.Model,
			Templates: tmpl,
			Params: SamplingParams{
				Temperature: rv.Params.Temperature,
				MaxTokens:   rv.Params.MaxTokens,
				Seed:        rv.Params.Seed,
				TopP:        rv.Params.TopP,
			},
			JSONMode: jm,
			Weight:   rv.Weight,
		}
		fn.Variants[vname] = v
		order = append(order, vname)
		if rv.Weight > 0 {
			total += rv.Weight
		}
	}

	// Deterministic iteration order: sort variant names so the prefix-sum
	// table does not depend on Go's randomized map iteration order across
	// process restarts.
	sortStrings(order)
	if total <= 0 {
		return nil, gatewayerrors.Newf(gatewayerrors.KindNoVariant, "function %q: no variant has positive weight", name)
	}
	var running float64
	for _, vname := range order {
		w := fn.Variants[vname].Weight
		if w <= 0 {
			continue
		}
		running += w
		fn.VariantOrder = append(fn.VariantOrder, vname)
		fn.WeightPrefixSums = append(fn.WeightPrefixSums, running/total)
	}

	return fn, nil
}

func compileTemplates(fnName, vname string, rt rawRoleTemplates) (RoleTemplates, error) {
	var out RoleTemplates
	var err error
	if rt.System != "" {
		if out.System, err = prompt.Compile(fnName+"."+vname+".system", rt.System); err != nil {
			return RoleTemplates{}, gatewayerrors.New(gatewayerrors.KindBadRequest, err)
		}
	}
	if rt.User != "" {
		if out.User, err = prompt.Compile(fnName+"."+vname+".user", rt.User); err != nil {
			return RoleTemplates{}, gatewayerrors.New(gatewayerrors.KindBadRequest, err)
		}
	}
	if rt.Assistant != "" {
		if out.Assistant, err = prompt.Compile(fnName+"."+vname+".assistant", rt.Assistant); err != nil {
			return RoleTemplates{}, gatewayerrors.New(gatewayerrors.KindBadRequest, err)
		}
	}
	return out, nil
}

func compileOptional(fnName, field string, raw json.RawMessage) (*schema.Compiled, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	c, err := schema.Compile("function."+fnName+"."+field, raw)
	if err != nil {
		return nil, gatewayerrors.New(gatewayerrors.KindBadRequest, fmt.Errorf("function %q %s: %w", fnName, field, err))
	}
	return c, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// sortStrings is a small insertion sort: the lists here are per-function
// variant-name lists, always small, and this avoids an import of "sort" for
// one call site.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// ValidateConfig checks an already-built Registry. BuildRegistry does not
// check bind_address; that check is made only here, so callers run
// ValidateConfig after LoadConfig (both binaries do, including the
// `fergw validate` CLI command).
func ValidateConfig(reg *Registry) error {
	if reg.BindAddress == "" {
		return fmt.Errorf("bind_address is required")
	}
	if len(reg.Functions) == 0 {
		return fmt.Errorf("at least one function is required")
	}
	for name, fn := range reg.Functions {
		if len(fn.VariantOrder) == 0 {
			return fmt.Errorf("function %q: no sampleable variant", name)
		}
	}
	return nil
}
