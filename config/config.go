package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// RateLimit bounds request admission over a fixed window.
type RateLimit struct {
	MaxRequests  int `yaml:"maxRequests"`
	WindowMillis int `yaml:"windowMillis"`
}

// Window returns the limit window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowMillis) * time.Millisecond
}

// Assistant is one resolved entry of the assistant registry. AgentID is the
// upstream OpenAI assistant id; after Load it never contains a ${VAR}
// placeholder and is never empty.
type Assistant struct {
	Key         string     `yaml:"-"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	AgentID     string     `yaml:"agentId"`
	Subdomain   string     `yaml:"subdomain"`
	RateLimit   *RateLimit `yaml:"rateLimit"`
}

// environment is the env-var surface of the relay. Secrets (agent ids, API
// key) come only from here; APP_NAME and DEFAULT_ASSISTANT are required.
type environment struct {
	AppName               string   `envconfig:"APP_NAME" required:"true"`
	DefaultAssistant      string   `envconfig:"DEFAULT_ASSISTANT" required:"true"`
	GlobalRateLimitMax    int      `envconfig:"GLOBAL_RATE_LIMIT_MAX" default:"1000"`
	GlobalRateLimitWindow int      `envconfig:"GLOBAL_RATE_LIMIT_WINDOW" default:"900000"`
	OpenAIAPIKey          string   `envconfig:"OPENAI_API_KEY"`
	Port                  string   `envconfig:"PORT" default:"3001"`
	Environment           string   `envconfig:"ENVIRONMENT" default:"development"`
	AllowedOrigins        []string `envconfig:"ALLOWED_ORIGINS"`
	LogLevel              string   `envconfig:"LOG_LEVEL" default:"INFO"`
}

// Registry is the resolved application configuration. It is built exactly
// once at startup and read-only afterwards; handlers receive it by reference.
type Registry struct {
	AppName          string
	DefaultAssistant string
	Environment      string
	OpenAIAPIKey     string
	Port             string
	AllowedOrigins   []string
	LogLevel         string
	GlobalRateLimit  RateLimit

	assistants map[string]*Assistant
	keys       []string
}

// registryFile mirrors assistants.yaml. Assistants is kept as a raw node so
// declaration order survives decoding.
type registryFile struct {
	Assistants yaml.Node `yaml:"assistants"`
}

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the assistant registry from path, substitutes ${VAR} secrets
// from the environment and validates the result. Substitution happens before
// validation so completeness checks see final values. Entries whose agent id
// stays unresolved are dropped with a diagnostic; in production that is fatal.
func Load(path string) (*Registry, error) {
	var env environment
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("environment is incomplete: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("assistant registry %s is required: %w", path, err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("assistant registry %s is malformed: %w", path, err)
	}
	if file.Assistants.Kind != yaml.MappingNode || len(file.Assistants.Content) == 0 {
		return nil, fmt.Errorf("assistant registry %s must declare at least one assistant", path)
	}

	reg := &Registry{
		AppName:          env.AppName,
		DefaultAssistant: env.DefaultAssistant,
		Environment:      env.Environment,
		OpenAIAPIKey:     env.OpenAIAPIKey,
		Port:             env.Port,
		AllowedOrigins:   env.AllowedOrigins,
		LogLevel:         env.LogLevel,
		GlobalRateLimit: RateLimit{
			MaxRequests:  env.GlobalRateLimitMax,
			WindowMillis: env.GlobalRateLimitWindow,
		},
		assistants: make(map[string]*Assistant),
	}
	if reg.GlobalRateLimit.MaxRequests <= 0 || reg.GlobalRateLimit.WindowMillis <= 0 {
		return nil, fmt.Errorf("global rate limit must be positive, got max=%d window=%dms",
			reg.GlobalRateLimit.MaxRequests, reg.GlobalRateLimit.WindowMillis)
	}

	var unresolved []string

	// A YAML mapping node stores keys and values as alternating children.
	content := file.Assistants.Content
	for i := 0; i+1 < len(content); i += 2 {
		key := content[i].Value
		if key == "" {
			return nil, fmt.Errorf("assistant registry %s contains an entry with an empty key", path)
		}
		if _, dup := reg.assistants[key]; dup {
			return nil, fmt.Errorf("assistant %q is declared twice", key)
		}

		var a Assistant
		if err := content[i+1].Decode(&a); err != nil {
			return nil, fmt.Errorf("assistant %q is malformed: %w", key, err)
		}
		a.Key = key
		if a.Subdomain == "" {
			a.Subdomain = key
		}
		if a.RateLimit != nil && (a.RateLimit.MaxRequests <= 0 || a.RateLimit.WindowMillis <= 0) {
			return nil, fmt.Errorf("assistant %q has a non-positive rate limit", key)
		}

		// Substitute exactly once, before completeness validation.
		a.AgentID = injectEnvVars(a.AgentID)

		if missing := placeholderPattern.FindStringSubmatch(a.AgentID); missing != nil {
			unresolved = append(unresolved, fmt.Sprintf("%s (%s)", key, missing[1]))
			continue
		}
		if a.AgentID == "" {
			unresolved = append(unresolved, fmt.Sprintf("%s (agentId not set)", key))
			continue
		}

		reg.assistants[key] = &a
		reg.keys = append(reg.keys, key)
	}

	if len(unresolved) > 0 {
		log.Printf("❌ Missing agent ids for assistants:")
		for _, entry := range unresolved {
			log.Printf("   - %s", entry)
		}
		log.Printf("💡 Set the listed environment variables to the upstream assistant ids")
		if reg.IsProduction() {
			return nil, fmt.Errorf("unresolved assistant agent ids: %s", strings.Join(unresolved, ", "))
		}
	}

	if len(reg.keys) == 0 {
		return nil, fmt.Errorf("no assistant has a resolved agent id, cannot start")
	}
	if _, ok := reg.assistants[reg.DefaultAssistant]; !ok {
		return nil, fmt.Errorf("DEFAULT_ASSISTANT %q does not name a configured assistant", reg.DefaultAssistant)
	}
	if err := reg.checkSubdomainUniqueness(); err != nil {
		return nil, err
	}

	for _, key := range reg.keys {
		a := reg.assistants[key]
		log.Printf("🔧 Configured assistant %q (subdomain: %s, agent: %s)", key, a.Subdomain, maskSecret(a.AgentID))
	}
	log.Printf("🔧 Global rate limit: %d requests per %s",
		reg.GlobalRateLimit.MaxRequests, reg.GlobalRateLimit.Window())

	return reg, nil
}

// injectEnvVars substitutes ${VAR} references with their environment values.
// Unset variables leave the placeholder intact so the caller can report which
// variable is missing.
func injectEnvVars(value string) string {
	if !strings.Contains(value, "${") {
		return value
	}
	return placeholderPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		log.Printf("⚠️  Environment variable %s not found, keeping placeholder", name)
		return match
	})
}

// checkSubdomainUniqueness fails fast on duplicate subdomains instead of
// letting lookup silently pick the first match.
func (r *Registry) checkSubdomainUniqueness() error {
	seen := make(map[string]string, len(r.keys))
	for _, key := range r.keys {
		sub := r.assistants[key].Subdomain
		if prev, dup := seen[sub]; dup {
			return fmt.Errorf("assistants %q and %q share subdomain %q", prev, key, sub)
		}
		seen[sub] = key
	}
	return nil
}

// Get returns the assistant with the given key.
func (r *Registry) Get(key string) (*Assistant, bool) {
	a, ok := r.assistants[key]
	return a, ok
}

// GetBySubdomain returns the assistant routed at the given subdomain.
func (r *Registry) GetBySubdomain(subdomain string) (*Assistant, bool) {
	for _, key := range r.keys {
		if r.assistants[key].Subdomain == subdomain {
			return r.assistants[key], true
		}
	}
	return nil, false
}

// All returns the assistants in declaration order.
func (r *Registry) All() []*Assistant {
	out := make([]*Assistant, 0, len(r.keys))
	for _, key := range r.keys {
		out = append(out, r.assistants[key])
	}
	return out
}

// IsProduction reports whether the relay runs in strict production mode.
func (r *Registry) IsProduction() bool {
	return strings.EqualFold(r.Environment, "production")
}

// maskSecret masks a secret value for safe logging
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
