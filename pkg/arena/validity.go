package arena

import "strings"

// Validity is the set of products currently up to date.
type Validity uint8

func (v Validity) Has(k Kind) bool { return v&(1<<k) != 0 }
func (v *Validity) Set(k Kind)     { *v |= 1 << k }
func (v *Validity) Reset()         { *v = 0 }

// Clear drops the given kinds; no kinds drops everything.
func (v *Validity) Clear(kinds ...Kind) {
	if len(kinds) == 0 {
		*v = 0
		return
	}
	for _, k := range kinds {
		*v &^= 1 << k
	}
}

func (v Validity) String() string {
	s := []string{}
	for k := Data; k <= NonlinearDerivative; k++ {
		if v.Has(k) {
			s = append(s, k.String())
		}
	}
	return "{" + strings.Join(s, ",") + "}"
}
