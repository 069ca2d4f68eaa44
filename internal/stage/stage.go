// Package stage implements the five conversion stages of one model and the
// policy that decides which of them run.
//
// Stages always run in the fixed order decompile, vtf, bmp, assemble,
// compile. Each stage reads and extends the shared [Artifacts] of the item
// and reports failure as a *[Error].
package stage

import (
	"fmt"
	"strings"

	"github.com/backmassage/s2g/internal/config"
)

// ID identifies a stage.
type ID int

const (
	Decompile ID = iota
	VTF
	BMP
	Assemble
	Compile
)

// Order is every stage in execution order.
var Order = []ID{Decompile, VTF, BMP, Assemble, Compile}

var idNames = [...]string{"decompile", "vtf", "bmp", "assemble", "compile"}

func (id ID) String() string {
	if id < 0 || int(id) >= len(idNames) {
		return fmt.Sprintf("stage(%d)", int(id))
	}
	return idNames[id]
}

// ParseID maps a stage name back to its ID.
func ParseID(s string) (ID, error) {
	for i, n := range idNames {
		if strings.EqualFold(n, s) {
			return ID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}

// Effective returns the stages p enables, in execution order. Compile
// always brings assemble with it.
func Effective(p config.StepPolicy) []ID {
	p = p.Normalize()
	enabled := [...]bool{p.Decompile, p.VTF, p.BMP, p.Assemble, p.Compile}
	out := make([]ID, 0, len(Order))
	for _, id := range Order {
		if enabled[id] {
			out = append(out, id)
		}
	}
	return out
}

// PolicyOf enables exactly the named stages. Names are matched with
// [ParseID].
func PolicyOf(names []string) (config.StepPolicy, error) {
	var p config.StepPolicy
	for _, n := range names {
		id, err := ParseID(strings.TrimSpace(n))
		if err != nil {
			return config.StepPolicy{}, err
		}
		switch id {
		case Decompile:
			p.Decompile = true
		case VTF:
			p.VTF = true
		case BMP:
			p.BMP = true
		case Assemble:
			p.Assemble = true
		case Compile:
			p.Compile = true
		}
	}
	return p, nil
}
