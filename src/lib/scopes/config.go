package scopes

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"gitlab.com/pnathan/scoped/src/lib/log"
	"gitlab.com/pnathan/scoped/src/lib/utility/trie"
)

// ScopeFile is the static scope configuration, e.g.
//
//	scopes:
//	  - scope: chat.messages.read
//	    grants: [alice, bob]
//	  - scope: realm.admin
type ScopeFile struct {
	Scopes []ScopeEntry `yaml:"scopes"`
}

type ScopeEntry struct {
	Scope  string   `yaml:"scope"`
	Grants []string `yaml:"grants"`
}

func ParseScopes(data []byte) (*ScopeFile, error) {
	f := &ScopeFile{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse scope file: %w", err)
	}
	for i, e := range f.Scopes {
		if _, err := trie.Split(e.Scope); err != nil {
			return nil, fmt.Errorf("scope entry %d: %w", i, err)
		}
	}
	return f, nil
}

func LoadScopes(filename string) (*ScopeFile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseScopes(data)
}

// Load grants every entry of f in file order.
func (r *Registry) Load(f *ScopeFile) error {
	for i, e := range f.Scopes {
		if err := r.Grant(e.Scope, e.Grants...); err != nil {
			return fmt.Errorf("scope entry %d: %w", i, err)
		}
	}
	log.Info("scopes loaded", zap.Int("entries", len(f.Scopes)), zap.Int("scopes", len(r.Keys())))
	return nil
}
