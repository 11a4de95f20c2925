package gateway

import (
	"encoding/json"
	"time"

	"github.com/ferro-labs/inference-gateway/internal/prompt"
	"github.com/ferro-labs/inference-gateway/internal/schema"
)

// FunctionKind is the shape of a function's structured contract.
type FunctionKind string

const (
	// KindChat functions return free-form assistant content.
	KindChat FunctionKind = "chat"
	// KindJSON functions return output validated against OutputSchema.
	KindJSON FunctionKind = "json"
)

// ToolChoiceMode controls whether and how a function's tools are offered.
// Any value other than the named constants is treated as the name of a
// specific tool the model must call.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
)

// JSONMode controls how a variant coerces JSON output from its provider.
type JSONMode string

const (
	JSONModeOff          JSONMode = "off"
	JSONModeOn           JSONMode = "on"
	JSONModeStrict       JSONMode = "strict"
	JSONModeImplicitTool JSONMode = "implicit_tool"
)

// ImplicitToolName is the reserved tool name synthesized for json_mode =
// implicit_tool. A user-declared tool may not use this name; checked at
// config-load time.
const ImplicitToolName = "respond"

// Function is a named interaction shape exposed to callers: chat or
// structured json output, with zero or more tools and one or more variants.
type Function struct {
	Name              string
	Kind              FunctionKind
	SystemSchema      *schema.Compiled
	UserSchema        *schema.Compiled
	AssistantSchema   *schema.Compiled
	OutputSchema      *schema.Compiled // required when Kind == KindJSON
	Tools             []string         // names, resolved against Registry.Tools
	ToolChoice        ToolChoiceMode
	ParallelToolCalls bool
	Variants          map[string]*Variant
	Timeout           time.Duration // request-wide deadline; zero means DefaultTimeout

	// VariantOrder and WeightPrefixSums are computed once at load time
	// (config_load.go) over the subset of variants with positive weight, and
	// consumed by internal/sampler for deterministic weighted selection.
	VariantOrder     []string
	WeightPrefixSums []float64
}

// DefaultTimeout is the request-wide deadline applied when a function does
// not configure one.
const DefaultTimeout = 60 * time.Second

// RoleTemplates holds the per-role prompt templates a variant renders.
// A nil template means the role has no template (the raw input is passed
// through as described in the schema & template engine rules).
type RoleTemplates struct {
	System    *prompt.Template
	User      *prompt.Template
	Assistant *prompt.Template
}

// SamplingParams are the provider-agnostic sampling knobs a variant sets.
// Pointers distinguish "unset" (provider default) from an explicit zero.
type SamplingParams struct {
	Temperature *float64
	MaxTokens   *int
	Seed        *int64
	TopP        *float64
}

// Variant is a concrete implementation of a function: a model binding, role
// templates, sampling parameters, and a json mode. The only variant kind in
// core is chat_completion.
type Variant struct {
	Name      string
	Model     string // resolved against Registry.Models
	Templates RoleTemplates
	Params    SamplingParams
	JSONMode  JSONMode
	Weight    float64
}

// ProviderType names a supported vendor backend.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderAzure     ProviderType = "azure"
	ProviderBedrock   ProviderType = "bedrock"
	ProviderVertex    ProviderType = "vertex"
	ProviderFireworks ProviderType = "fireworks"
	ProviderTogether  ProviderType = "together"
	ProviderMistral   ProviderType = "mistral"
	ProviderVLLM      ProviderType = "vllm"
	ProviderDummy     ProviderType = "dummy"
)

// CredentialRef is an opaque wrapper around a secret value (API key, token).
// It is never logged in plaintext: String and MarshalJSON both redact, so a
// CredentialRef embedded anywhere in a logged struct or a persisted
// InferenceRecord never leaks the underlying value.
type CredentialRef struct {
	value string
}

// NewCredentialRef wraps a secret value.
func NewCredentialRef(value string) CredentialRef { return CredentialRef{value: value} }

// Reveal returns the underlying secret. Callers must pass the result
// directly to a transport layer (HTTP header, SDK client), never log it.
func (c CredentialRef) Reveal() string { return c.value }

// Empty reports whether no credential was configured.
func (c CredentialRef) Empty() bool { return c.value == "" }

// String redacts the credential for logging and fmt.Stringer consumers.
func (c CredentialRef) String() string {
	if c.value == "" {
		return "<empty>"
	}
	return "<redacted>"
}

// MarshalJSON redacts the credential so it never round-trips through a
// logged or persisted JSON document.
func (c CredentialRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Model is an abstract endpoint name with an ordered list of concrete
// provider names to try, in order, on failover.
type Model struct {
	Name    string
	Routing []string
}

// ProviderConfig is the vendor-specific configuration for one named provider
// entry under the `providers` table.
type ProviderConfig struct {
	Name         string
	Type         ProviderType
	Endpoint     string // vendor API base URL override
	DeploymentID string // Azure OpenAI deployment
	Region       string // Bedrock / Vertex region
	ModelID      string // vendor-side model identifier, if different from Name
	ProjectID    string // Vertex project
	Credentials  CredentialRef
	AlwaysFail   bool // dummy provider only: force every request to fail
}

// Tool is a named, JSON-schema-typed callable the model may request.
type Tool struct {
	Name        string
	Description string
	Parameters  *schema.Compiled
}

// MetricType is the value type a metric records.
type MetricType string

const (
	MetricBoolean MetricType = "boolean"
	MetricFloat   MetricType = "float"
)

// MetricOptimize indicates whether higher or lower values are better for a
// metric; informational only in core.
type MetricOptimize string

const (
	OptimizeMin MetricOptimize = "min"
	OptimizeMax MetricOptimize = "max"
)

// MetricLevel scopes a metric to an inference or an episode.
type MetricLevel string

const (
	LevelInference MetricLevel = "inference"
	LevelEpisode   MetricLevel = "episode"
)

// Metric describes one named feedback metric. Names are unique across all
// metrics declared in a config.
type Metric struct {
	Name     string
	Type     MetricType
	Optimize MetricOptimize
	Level    MetricLevel
}

// CircuitBreakerConfig configures the per-provider circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Defaults to 5.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// SuccessThreshold is the number of consecutive successes in half-open
	// state required to close the circuit. Defaults to 1.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	// Timeout is the duration the circuit stays open before transitioning to
	// half-open (e.g. "30s"). Defaults to "30s".
	Timeout string `json:"timeout" yaml:"timeout"`
}

// PluginConfig holds plugin configuration: before/after/on-error hooks that
// wrap the inference orchestrator (SPEC_FULL.md §6).
type PluginConfig struct {
	Name    string                 `json:"name" yaml:"name"`
	Type    string                 `json:"type" yaml:"type"`
	Stage   string                 `json:"stage" yaml:"stage"`
	Enabled bool                   `json:"enabled" yaml:"enabled"`
	Config  map[string]interface{} `json:"config" yaml:"config"`
}

// Registry is the process-wide immutable configuration built once at
// startup by LoadConfig/BuildRegistry and shared read-only by every request
// handler (SPEC_FULL.md §4, "ownership").
type Registry struct {
	BindAddress     string
	Functions       map[string]*Function
	Models          map[string]*Model
	Providers       map[string]ProviderConfig
	Tools           map[string]*Tool
	Metrics         map[string]*Metric
	CircuitBreakers map[string]CircuitBreakerConfig // keyed by provider name
	Plugins         []PluginConfig
}
