package passes

import (
	"sort"

	"golang.org/x/exp/maps"

	"github.com/IQBigBang/swarm-ir/errors"
	"github.com/IQBigBang/swarm-ir/ir"
)

// Splice applies a per-block rewrite plan to a single function: each entry
// replaces a half-open instruction range with new instructions, preserving
// everything outside the ranges. Ranges within a block must not overlap;
// this is checked when the pass is constructed.
type Splice struct {
	plan   map[ir.BlockID][]Rewrite
	target int
}

// NewSplice builds the splice pass for the function with the given module
// index. It validates the plan: ranges must be well-formed and must not
// overlap within a block. The plan's rewrites are re-ordered in place.
func NewSplice(targetFuncIdx int, plan map[ir.BlockID][]Rewrite) (*Splice, error) {
	for blockID, rewrites := range plan {
		// Sort by descending start so application proceeds back-to-front
		// and earlier indices stay valid throughout.
		sort.Slice(rewrites, func(i, j int) bool {
			return rewrites[i].Start > rewrites[j].Start
		})
		for i, r := range rewrites {
			if r.Start < 0 || r.End < r.Start {
				return nil, errors.New(errors.PhaseRewrite, errors.KindMalformedInput).
					Block(int(blockID)).
					Detail("invalid range [%d, %d)", r.Start, r.End).
					Build()
			}
			// with descending starts, the next rewrite must end at or
			// before this one's start
			if i+1 < len(rewrites) && rewrites[i+1].End > r.Start {
				return nil, errors.New(errors.PhaseRewrite, errors.KindOverlappingRanges).
					Block(int(blockID)).
					Detail("[%d, %d) overlaps [%d, %d)",
						rewrites[i+1].Start, rewrites[i+1].End, r.Start, r.End).
					Build()
			}
		}
	}
	return &Splice{target: targetFuncIdx, plan: plan}, nil
}

// Name implements the pass interface.
func (*Splice) Name() string { return "splice" }

// VisitFunction validates the plan's block ids and range bounds against the
// target function.
func (s *Splice) VisitFunction(m *ir.Module, f *ir.Function) (struct{}, error) {
	if f.Index() != s.target {
		return struct{}{}, nil
	}
	ids := maps.Keys(s.plan)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		b, ok := f.Block(id)
		if !ok {
			return struct{}{}, errors.New(errors.PhaseRewrite, errors.KindInvalidBlockID).
				Func(f.Name()).Block(int(id)).
				Detail("rewrite plan names an unknown block").
				Build()
		}
		for _, r := range s.plan[id] {
			if r.End > len(b.Body) {
				return struct{}{}, errors.New(errors.PhaseRewrite, errors.KindMalformedInput).
					Func(f.Name()).Block(int(id)).
					Detail("range [%d, %d) exceeds block length %d", r.Start, r.End, len(b.Body)).
					Build()
			}
		}
	}
	return struct{}{}, nil
}

// MutateFunction applies the splices back-to-front.
func (s *Splice) MutateFunction(f *ir.Function, _ struct{}) error {
	if f.Index() != s.target {
		return nil
	}
	for blockID, rewrites := range s.plan {
		b, _ := f.Block(blockID)
		for _, r := range rewrites {
			spliced := make([]ir.Instr, 0, len(b.Body)-(r.End-r.Start)+len(r.With))
			spliced = append(spliced, b.Body[:r.Start]...)
			spliced = append(spliced, r.With...)
			spliced = append(spliced, b.Body[r.End:]...)
			b.Body = spliced
		}
	}
	return nil
}
