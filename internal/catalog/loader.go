package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the YAML document layout for CATALOG_FILE.
type catalogFile struct {
	Services []Service `yaml:"services"`
}

// LoadFile reads a YAML catalog from path and returns a Registry over it.
func LoadFile(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading %s: %w", path, err)
	}
	services, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return NewStaticRegistry(services), nil
}

// Parse decodes and validates a YAML catalog document. Unknown fields are
// rejected so a misspelled key does not silently drop a price.
func Parse(data []byte) ([]Service, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc catalogFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if len(doc.Services) == 0 {
		return nil, errors.New("catalog defines no services")
	}

	seen := make(map[string]struct{}, len(doc.Services))
	out := make([]Service, 0, len(doc.Services))
	for i, s := range doc.Services {
		if s.ID == "" {
			return nil, fmt.Errorf("service %d: id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("service %q: duplicate id", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.PriceCents <= 0 {
			return nil, fmt.Errorf("service %q: price_cents must be positive", s.ID)
		}
		if s.CreditsPerPurchase < 0 {
			return nil, fmt.Errorf("service %q: credits_per_purchase must not be negative", s.ID)
		}
		for _, p := range s.Providers {
			if p != ProviderOpenAI && p != ProviderGemini {
				return nil, fmt.Errorf("service %q: unknown provider %q", s.ID, p)
			}
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		out = append(out, applyDefaults(s))
	}
	return out, nil
}
