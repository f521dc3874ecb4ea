package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rezonia/fiscal-sync/internal/model"
)

// Profiles is the set of taxpayers this installation syncs
type Profiles struct {
	Taxpayers []model.TaxpayerProfile `yaml:"taxpayers"`
}

// LoadProfiles reads taxpayer profiles from a YAML file
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes and validates profile YAML
func ParseProfiles(data []byte) (*Profiles, error) {
	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	seen := make(map[string]bool, len(p.Taxpayers))
	for i := range p.Taxpayers {
		tp := &p.Taxpayers[i]
		tp.RFC = strings.ToUpper(strings.TrimSpace(tp.RFC))
		if tp.RFC == "" {
			return nil, fmt.Errorf("taxpayer %d: rfc is required", i)
		}
		if seen[tp.RFC] {
			return nil, fmt.Errorf("taxpayer %s: duplicate rfc", tp.RFC)
		}
		seen[tp.RFC] = true
		if tp.Tenant == "" {
			tp.Tenant = tp.RFC
		}
		if tp.CertPath == "" && tp.CertURL == "" {
			return nil, fmt.Errorf("taxpayer %s: cer_path or cer_url is required", tp.RFC)
		}
		if tp.KeyPath == "" && tp.KeyURL == "" {
			return nil, fmt.Errorf("taxpayer %s: key_path or key_url is required", tp.RFC)
		}
	}
	return &p, nil
}

// Find returns the profile for an RFC
func (p *Profiles) Find(rfc string) (*model.TaxpayerProfile, bool) {
	rfc = strings.ToUpper(strings.TrimSpace(rfc))
	for i := range p.Taxpayers {
		if p.Taxpayers[i].RFC == rfc {
			return &p.Taxpayers[i], true
		}
	}
	return nil, false
}

// DailySync returns the profiles flagged for the scheduled run
func (p *Profiles) DailySync() []model.TaxpayerProfile {
	var out []model.TaxpayerProfile
	for _, tp := range p.Taxpayers {
		if tp.DailySync {
			out = append(out, tp)
		}
	}
	return out
}
