package plans

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Plans map[string]planEntry `yaml:"plans"`
}

type planEntry struct {
	Name   string                       `yaml:"name"`
	Images Quota                        `yaml:"images"`
	Text   Quota                        `yaml:"text"`
	Prices map[string]map[string]string `yaml:"prices"`
}

// Parse builds a catalog from YAML:
//
//	plans:
//	  free:  {images: 20, text: 10}
//	  basic:
//	    images: 300
//	    text: 100
//	    prices:
//	      monthly: {USD: price_basic_m}
//	  pro:
//	    prices:
//	      yearly: {usd: price_pro_y}
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	specs := make([]Spec, 0, len(f.Plans))
	for name, e := range f.Plans {
		p, err := ParsePlan(name)
		if err != nil {
			return nil, errors.Join(ErrInvalidCatalog, err)
		}
		s := Spec{
			Plan:   p,
			Name:   e.Name,
			Quotas: Quotas{Images: e.Images, Text: e.Text},
		}
		if len(e.Prices) > 0 {
			s.Prices = make(map[Cycle]map[string]string, len(e.Prices))
			for rawCycle, byCurrency := range e.Prices {
				cycle, err := ParseCycle(rawCycle)
				if err != nil {
					return nil, errors.Join(ErrInvalidCatalog, err)
				}
				if _, dup := s.Prices[cycle]; dup {
					return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q prices cycle %q twice", p, cycle))
				}
				s.Prices[cycle] = byCurrency
			}
		}
		specs = append(specs, s)
	}

	return New(specs...)
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plans: read catalog %s: %w", path, err)
	}
	return Parse(data)
}
