package merge

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"chronicle/collab/internal/ot"
)

type side int

const (
	sideSource side = iota
	sideTarget
)

// edit replaces ancestor runes [start, end) with text.
type edit struct {
	side  side
	start int
	end   int
	text  string
}

// region is a cluster of overlapping edits from either side, expressed in
// ancestor rune offsets.
type region struct {
	start  int
	end    int
	source []edit
	target []edit
}

func (r region) conflicting(ancestor []rune) bool {
	if len(r.source) == 0 || len(r.target) == 0 {
		return false
	}
	return r.text(ancestor, sideSource) != r.text(ancestor, sideTarget)
}

// text is the region as it reads on the given side.
func (r region) text(ancestor []rune, s side) string {
	edits := r.source
	if s == sideTarget {
		edits = r.target
	}
	out := make([]rune, 0, r.end-r.start)
	pos := r.start
	for _, e := range edits {
		out = append(out, ancestor[pos:e.start]...)
		out = append(out, []rune(e.text)...)
		pos = e.end
	}
	out = append(out, ancestor[pos:r.end]...)
	return string(out)
}

// diffEdits lists the edits that turn ancestor into other.
func diffEdits(dmp *diffmatchpatch.DiffMatchPatch, ancestor, other string, s side) []edit {
	diffs := dmp.DiffMain(ancestor, other, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	edits := make([]edit, 0)
	pos := 0
	var pending *edit
	flush := func() {
		if pending != nil {
			edits = append(edits, *pending)
			pending = nil
		}
	}
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			pos += n
		case diffmatchpatch.DiffDelete:
			if pending == nil {
				pending = &edit{side: s, start: pos, end: pos}
			}
			pending.end += n
			pos += n
		case diffmatchpatch.DiffInsert:
			if pending == nil {
				pending = &edit{side: s, start: pos, end: pos}
			}
			pending.text += d.Text
		}
	}
	flush()
	return edits
}

// clusterRegions groups edits that touch the same ancestor text. Two edits
// share a region when their ranges overlap or they start at the same offset.
func clusterRegions(source, target []edit) []region {
	all := make([]edit, 0, len(source)+len(target))
	all = append(all, source...)
	all = append(all, target...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return all[i].end < all[j].end
	})

	regions := make([]region, 0)
	for _, e := range all {
		n := len(regions)
		if n > 0 && (e.start < regions[n-1].end || e.start == regions[n-1].start) {
			r := &regions[n-1]
			if e.end > r.end {
				r.end = e.end
			}
			r.add(e)
			continue
		}
		r := region{start: e.start, end: e.end}
		r.add(e)
		regions = append(regions, r)
	}
	return regions
}

func (r *region) add(e edit) {
	if e.side == sideSource {
		r.source = append(r.source, e)
	} else {
		r.target = append(r.target, e)
	}
}

// toOperations turns ancestor-relative edits into a sequence of operations
// that can be applied one after another to the ancestor. Edits are emitted
// from the end of the text backwards so earlier offsets stay valid.
func toOperations(edits []edit, author string) []ot.Operation {
	sorted := append([]edit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start > sorted[j].start })

	ops := make([]ot.Operation, 0, len(sorted)*2)
	for i, e := range sorted {
		if e.end > e.start {
			ops = append(ops, ot.Operation{
				ID:       fmt.Sprintf("%s-%d-del", author, i),
				Type:     ot.OpDelete,
				AuthorID: author,
				Position: e.start,
				Length:   e.end - e.start,
			})
		}
		if e.text != "" {
			ops = append(ops, ot.Operation{
				ID:       fmt.Sprintf("%s-%d-ins", author, i),
				Type:     ot.OpInsert,
				AuthorID: author,
				Position: e.start,
				Content:  e.text,
			})
		}
	}
	return ops
}

// Author ids order target operations before source operations when both
// insert at the same offset.
const (
	targetAuthor = "0-target"
	sourceAuthor = "1-source"
)

// threeWay merges the chosen edits of both sides onto ancestor by applying
// the target operations and then the source operations transformed past
// them.
func threeWay(ancestor string, source, target []edit) (string, error) {
	sourceOps := toOperations(source, sourceAuthor)
	targetOps := toOperations(target, targetAuthor)
	rebased, _ := ot.TransformSequence(sourceOps, targetOps)

	merged, err := ot.ApplyAll(ancestor, targetOps)
	if err != nil {
		return "", fmt.Errorf("apply target edits: %w", err)
	}
	merged, err = ot.ApplyAll(merged, rebased)
	if err != nil {
		return "", fmt.Errorf("apply source edits: %w", err)
	}
	return merged, nil
}
