package probe

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"klineKit/internal/ports"
)

// Probe kinds.
const (
	KindHTTP      = "http"
	KindWebSocket = "websocket"
	KindDominance = "dominance"
)

const defaultTimeout = 10 * time.Second

// Catalog is the YAML probe file.
type Catalog struct {
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	Probes         []Probe `yaml:"probes"`
}

// Probe describes one smoke check.
type Probe struct {
	Name    string            `yaml:"name"`
	Kind    string            `yaml:"kind"`
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	// Body is sent as JSON when set.
	Body         interface{} `yaml:"body"`
	Extract      string      `yaml:"extract"`
	ExpectStatus int         `yaml:"expect_status"`
	// ExpectValue is compared against the extracted value rendered as a string.
	ExpectValue    string `yaml:"expect_value"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the catalog-wide probe timeout.
func (c *Catalog) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoadCatalog reads a probe catalog and expands ${ENV} references in urls
// and header values.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read probe catalog: %w: %w", ports.ErrConfigurationError, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog YAML. Kind defaults to http and Method to GET.
func ParseCatalog(data []byte) (*Catalog, error) {
	cat := &Catalog{}
	if err := yaml.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("parse probe catalog: %w: %w", ports.ErrConfigurationError, err)
	}

	seen := make(map[string]bool, len(cat.Probes))
	for i := range cat.Probes {
		p := &cat.Probes[i]
		if p.Name == "" {
			return nil, fmt.Errorf("probe #%d has no name: %w", i+1, ports.ErrConfigurationError)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate probe %q: %w", p.Name, ports.ErrConfigurationError)
		}
		seen[p.Name] = true

		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.Kind == "" {
			p.Kind = KindHTTP
		}
		switch p.Kind {
		case KindHTTP, KindWebSocket, KindDominance:
		default:
			return nil, fmt.Errorf("probe %q: unknown kind %q: %w", p.Name, p.Kind, ports.ErrConfigurationError)
		}
		if p.Method == "" {
			p.Method = "GET"
		}
		p.Method = strings.ToUpper(p.Method)

		p.URL = os.ExpandEnv(p.URL)
		if p.URL == "" && p.Kind != KindDominance {
			return nil, fmt.Errorf("probe %q: url is required: %w", p.Name, ports.ErrConfigurationError)
		}
		for k, v := range p.Headers {
			p.Headers[k] = os.ExpandEnv(v)
		}
	}
	return cat, nil
}
