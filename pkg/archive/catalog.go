package archive

import (
	"fmt"
)

type Field struct {
	Name string `yaml:"name"`
	Doc  string `yaml:"doc,omitempty"`
}

// A Record maps field names to scalars, lists of scalars, or strings.
type Record map[string]interface{}

type Catalog struct {
	Schema  []Field  `yaml:"schema"`
	Records []Record `yaml:"records"`
}

// Add appends a record; every key must be in the schema.
func (c *Catalog) Add(r Record) error {
	for k := range r {
		if !c.hasField(k) {
			return fmt.Errorf("%q not in schema: %w", k, ErrField)
		}
	}
	c.Records = append(c.Records, r)
	return nil
}

func (c *Catalog) hasField(name string) bool {
	for _, f := range c.Schema {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (c *Catalog) Len() int { return len(c.Records) }

func (r Record) get(name string) (interface{}, error) {
	v, exists := r[name]
	if !exists {
		return nil, fmt.Errorf("%q missing: %w", name, ErrField)
	}
	return v, nil
}

// Float accepts ints too, since yaml writes 2.0 as 2.
func (r Record) Float(name string) (float64, error) {
	v, err := r.get(name)
	if err != nil {
		return 0, err
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, fmt.Errorf("%q is %T: %w", name, v, ErrField)
	}
	return f, nil
}

func (r Record) Int(name string) (int, error) {
	v, err := r.get(name)
	if err != nil {
		return 0, err
	}
	switch i := v.(type) {
	case int:
		return i, nil
	case int64:
		return int(i), nil
	case uint64:
		return int(i), nil
	}
	return 0, fmt.Errorf("%q is %T: %w", name, v, ErrField)
}

func (r Record) String(name string) (string, error) {
	v, err := r.get(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%q is %T: %w", name, v, ErrField)
	}
	return s, nil
}

func (r Record) Floats(name string) ([]float64, error) {
	v, err := r.get(name)
	if err != nil {
		return nil, err
	}
	switch l := v.(type) {
	case []float64:
		return append([]float64{}, l...), nil
	case []interface{}:
		out := make([]float64, len(l))
		for i, e := range l {
			f, ok := asFloat(e)
			if !ok {
				return nil, fmt.Errorf("%q[%d] is %T: %w", name, i, e, ErrField)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("%q is %T: %w", name, v, ErrField)
}

func (r Record) Ints(name string) ([]int, error) {
	v, err := r.get(name)
	if err != nil {
		return nil, err
	}
	switch l := v.(type) {
	case []int:
		return append([]int{}, l...), nil
	case []interface{}:
		out := make([]int, len(l))
		for i, e := range l {
			n, ok := e.(int)
			if !ok {
				return nil, fmt.Errorf("%q[%d] is %T: %w", name, i, e, ErrField)
			}
			out[i] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("%q is %T: %w", name, v, ErrField)
}

func asFloat(v interface{}) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	case int64:
		return float64(f), true
	case uint64:
		return float64(f), true
	}
	return 0, false
}
