package measure

import (
	"fmt"
	"strings"
)

// Flags share a bit vector with the detection flags, which use the low 16 bits.
type Flags uint32

const (
	FailInitTooLarge  Flags = 0x00010000
	FailInitTooSmall  Flags = 0x00020000
	FailInitPsNaN     Flags = 0x00040000
	FailFitPsUnknown  Flags = 0x00080000
	FailInitSgNaN     Flags = 0x00100000
	FailInitSgMoments Flags = 0x00200000
	FailFitSgSersic   Flags = 0x00400000
	FailFitSgRadius   Flags = 0x00800000
	FailFitSgUnknown  Flags = 0x01000000
	PsMaxIterations   Flags = 0x02000000
	PsPoorConvergence Flags = 0x04000000
	SgMaxIterations   Flags = 0x08000000
	SgPoorConvergence Flags = 0x10000000

	FailInitPs = FailInitPsNaN | FailInitTooSmall | FailInitTooLarge
	FailFitPs  = FailFitPsUnknown
	FailPs     = FailInitPs | FailFitPs
	FailInitSg = FailInitSgNaN | FailInitSgMoments | FailInitTooSmall | FailInitTooLarge
	FailFitSg  = FailFitSgSersic | FailFitSgUnknown | FailFitSgRadius
	FailSg     = FailInitSg | FailFitSg
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FailInitTooLarge, "FAIL_INIT_TOO_LARGE"},
	{FailInitTooSmall, "FAIL_INIT_TOO_SMALL"},
	{FailInitPsNaN, "FAIL_INIT_PS_NAN"},
	{FailFitPsUnknown, "FAIL_FIT_PS_UNKNOWN"},
	{FailInitSgNaN, "FAIL_INIT_SG_NAN"},
	{FailInitSgMoments, "FAIL_INIT_SG_MOMENTS"},
	{FailFitSgSersic, "FAIL_FIT_SG_SERSIC"},
	{FailFitSgRadius, "FAIL_FIT_SG_RADIUS"},
	{FailFitSgUnknown, "FAIL_FIT_SG_UNKNOWN"},
	{PsMaxIterations, "PS_MAX_ITERATIONS"},
	{PsPoorConvergence, "PS_POOR_CONVERGENCE"},
	{SgMaxIterations, "SG_MAX_ITERATIONS"},
	{SgPoorConvergence, "SG_POOR_CONVERGENCE"},
}

func (f Flags) Has(mask Flags) bool { return f&mask != 0 }

// Names lists the individual bits that are set.
func (f Flags) Names() []string {
	names := []string{}
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	return fmt.Sprintf("0x%08x[%s]", uint32(f), strings.Join(f.Names(), "|"))
}
