package poi

// FilterConfig defines tag rules applied to collected elements
type FilterConfig struct {
	// Include lists tag keys and allowed values; an empty value list allows any value.
	// If empty, all elements are included.
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude is applied after include rules
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny lists keys of which at least one must be present
	RequireAny []string `yaml:"require_any,omitempty"`
}

// Filter checks if tags match a filter configuration
type Filter struct {
	cfg *FilterConfig
}

// NewFilter creates a filter; a nil config matches everything
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil {
		return &Filter{cfg: &FilterConfig{}}
	}
	return &Filter{cfg: cfg}
}

// Match returns true if the tags pass the filter
func (f *Filter) Match(tags map[string]string) bool {
	if len(f.cfg.RequireAny) > 0 {
		found := false
		for _, key := range f.cfg.RequireAny {
			if tags[key] != "" {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.cfg.Include) > 0 {
		matched := false
		for key, values := range f.cfg.Include {
			if tagValue, ok := tags[key]; ok && containsValue(values, tagValue) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for key, values := range f.cfg.Exclude {
		if tagValue, ok := tags[key]; ok && containsValue(values, tagValue) {
			return false
		}
	}

	return true
}

// HasFilter returns true if any rule is configured
func (f *Filter) HasFilter() bool {
	return len(f.cfg.Include) > 0 || len(f.cfg.Exclude) > 0 || len(f.cfg.RequireAny) > 0
}

// containsValue treats an empty list or "*" as matching any value
func containsValue(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, allowed := range values {
		if allowed == v || allowed == "*" {
			return true
		}
	}
	return false
}
