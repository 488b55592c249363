package tools

// Input is a validated tool input. Values have already been normalised by the schema,
// so the getters only fall back to zero values for absent optional fields.
type Input map[string]any

func (in Input) String(name string) string {
	s, _ := in[name].(string)
	return s
}

func (in Input) Int(name string) int {
	switch n := in[name].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// Float returns nil when the field is absent.
func (in Input) Float(name string) *float64 {
	switch n := in[name].(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	}
	return nil
}

func (in Input) Bool(name string) bool {
	b, _ := in[name].(bool)
	return b
}

func (in Input) Strings(name string) []string {
	switch v := in[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
