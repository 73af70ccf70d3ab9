package query

// FilterSpec is the wire form of a Filter. A spec without "apply" is
// applied when its value is present.
type FilterSpec struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"`
	Value any    `json:"value" yaml:"value"`
	Apply *bool  `json:"apply,omitempty" yaml:"apply,omitempty"`
	Param string `json:"param,omitempty" yaml:"param,omitempty"`
}

// Filter converts the spec to a Filter.
func (s FilterSpec) Filter() Filter {
	apply := Present(s.Value)
	if s.Apply != nil {
		apply = *s.Apply
	}
	return Filter{Field: s.Field, Op: s.Op, Value: s.Value, Apply: apply, Param: s.Param}
}

// Filters converts specs in order.
func Filters(specs []FilterSpec) []Filter {
	filters := make([]Filter, len(specs))
	for i, s := range specs {
		filters[i] = s.Filter()
	}
	return filters
}
