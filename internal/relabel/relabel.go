package relabel

import (
	"sort"

	"github.com/hyperjump/uttree/internal/tree"
)

// Rounds is the number of refinement rounds: one less than the tree depth,
// enough for the root label to cover every leaf.
const Rounds = tree.Depth - 1

// Assignment maps every NodeID of one tree to its final-round label.
type Assignment struct {
	labels []Label
}

// Label returns the label of id.
func (a Assignment) Label(id tree.NodeID) Label { return a.labels[id] }

// Len returns the number of labelled nodes.
func (a Assignment) Len() int { return len(a.labels) }

// Root returns the root label, the admission's structural fingerprint.
func (a Assignment) Root() Label {
	if len(a.labels) == 0 {
		return Label{}
	}
	return a.labels[tree.Root]
}

// Relabel computes round-0 content labels and refines them for Rounds rounds.
// It is a pure function of the tree.
func Relabel(t *tree.Tree) Assignment {
	labels := Initial(t)
	for r := 0; r < Rounds; r++ {
		labels = Refine(t, labels)
	}
	return Assignment{labels: labels}
}

// Initial returns the round-0 labels: a hash of each node's own content.
func Initial(t *tree.Tree) []Label {
	labels := make([]Label, t.Len())
	for i := range labels {
		id := tree.NodeID(i)
		n := t.Node(id)
		switch n.Level {
		case tree.LevelRoot:
			labels[i] = newHasher("root").sum()
		case tree.LevelDay:
			labels[i] = newHasher("day").int(int64(n.DayOffset)).sum()
		case tree.LevelType:
			labels[i] = newHasher("type").str(n.Type.String()).sum()
		case tree.LevelEvent:
			q := t.Event(id)
			labels[i] = newHasher("event").
				str(q.Category.String()).
				bytes(q.Value.AppendCanonical(nil)).
				sum()
		}
	}
	return labels
}

// Refine runs one round: every node's new label hashes its previous label
// with the sorted multiset of its children's previous labels. All nodes read
// from prev, so the order nodes are visited in does not matter.
func Refine(t *tree.Tree, prev []Label) []Label {
	next := make([]Label, len(prev))
	var kids []Label
	for i := range prev {
		children := t.Children(tree.NodeID(i))
		kids = kids[:0]
		for _, c := range children {
			kids = append(kids, prev[c])
		}
		sort.Slice(kids, func(a, b int) bool { return kids[a].Compare(kids[b]) < 0 })

		h := newHasher("wl").bytes(prev[i][:]).int(int64(len(kids)))
		for _, k := range kids {
			h.bytes(k[:])
		}
		next[i] = h.sum()
	}
	return next
}
