// Package tree builds the four-level temporal tree of an admission:
// root, calendar days, temporal types, and one leaf per event.
package tree

import (
	"fmt"
	"time"

	"github.com/hyperjump/uttree/internal/models"
)

// NodeID addresses a node in a Tree's arena.
type NodeID int32

// Root is the id of every tree's root node.
const Root NodeID = 0

// None is the parent of the root.
const None NodeID = -1

// Level is a node's depth, starting at LevelRoot.
type Level uint8

const (
	LevelRoot Level = iota + 1
	LevelDay
	LevelType
	LevelEvent
)

// Depth is the number of levels in every tree.
const Depth = int(LevelEvent)

func (l Level) String() string {
	switch l {
	case LevelRoot:
		return "root"
	case LevelDay:
		return "day"
	case LevelType:
		return "type"
	case LevelEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Node is one arena slot. Which content fields are set depends on Level.
type Node struct {
	Level    Level
	Parent   NodeID
	Children []NodeID

	// LevelDay: offset in calendar days from the admission's first event day.
	DayOffset int
	// LevelDay: local midnight of the day.
	Date time.Time
	// LevelType.
	Type models.TemporalType
	// LevelEvent: index into the tree's events.
	Event int
}

// Tree is an immutable temporal tree. Nodes are stored in an arena and
// children are kept in structural order.
type Tree struct {
	admissionID string
	nodes       []Node
	events      []models.Quadruple
}

// Build groups the record's events by calendar day (in the admission's
// location), then by temporal type in the order Retrospective, NewFinding,
// RealTime. Only non-empty groups produce nodes. Leaves keep the record's order.
func Build(rec *models.AdmissionRecord) (*Tree, error) {
	if rec == nil {
		return nil, fmt.Errorf("nil admission record")
	}
	if rec.Len() == 0 {
		return nil, &models.EmptyAdmissionError{AdmissionID: rec.ID()}
	}

	events := rec.Events()
	loc := rec.Location()
	zero := civilDay(rec.DayZero())

	t := &Tree{
		admissionID: rec.ID(),
		events:      events,
		// root + at most 3 nodes per event
		nodes: make([]Node, 0, 1+len(events)*2),
	}
	t.nodes = append(t.nodes, Node{Level: LevelRoot, Parent: None})

	for start := 0; start < len(events); {
		day := civilDay(events[start].Timestamp.In(loc))
		end := start + 1
		for end < len(events) && civilDay(events[end].Timestamp.In(loc)) == day {
			end++
		}
		t.addDay(events, start, end, day, zero, loc)
		start = end
	}
	return t, nil
}

func (t *Tree) addDay(events []models.Quadruple, start, end int, day, zero civil, loc *time.Location) {
	dayID := t.add(Node{
		Level:     LevelDay,
		Parent:    Root,
		DayOffset: day.sub(zero),
		Date:      time.Date(day.y, day.m, day.d, 0, 0, 0, 0, loc),
	})
	for _, tt := range models.TemporalTypes {
		var typeID NodeID = None
		for i := start; i < end; i++ {
			if events[i].TemporalType != tt {
				continue
			}
			if typeID == None {
				typeID = t.add(Node{Level: LevelType, Parent: dayID, Type: tt})
			}
			t.add(Node{Level: LevelEvent, Parent: typeID, Event: i})
		}
	}
}

func (t *Tree) add(n Node) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	if n.Parent != None {
		p := &t.nodes[n.Parent]
		p.Children = append(p.Children, id)
	}
	return id
}

// AdmissionID returns the id of the admission the tree was built from.
func (t *Tree) AdmissionID() string { return t.admissionID }

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns a copy of the node with the given id.
func (t *Tree) Node(id NodeID) Node {
	n := t.nodes[id]
	n.Children = append([]NodeID(nil), n.Children...)
	return n
}

// Level returns the level of id.
func (t *Tree) Level(id NodeID) Level { return t.nodes[id].Level }

// Children returns the children of id in structural order.
// The returned slice must not be modified.
func (t *Tree) Children(id NodeID) []NodeID { return t.nodes[id].Children }

// Event returns the quadruple behind a leaf.
func (t *Tree) Event(id NodeID) models.Quadruple {
	n := t.nodes[id]
	if n.Level != LevelEvent {
		panic(fmt.Sprintf("tree: node %d is a %s node, not an event", id, n.Level))
	}
	return t.events[n.Event]
}

// CountLevel returns the number of nodes at level l.
func (t *Tree) CountLevel(l Level) int {
	n := 0
	for i := range t.nodes {
		if t.nodes[i].Level == l {
			n++
		}
	}
	return n
}

// Days returns the day nodes in ascending date order.
func (t *Tree) Days() []NodeID { return t.Children(Root) }

type civil struct {
	y int
	m time.Month
	d int
}

func civilDay(ts time.Time) civil {
	y, m, d := ts.Date()
	return civil{y, m, d}
}

// sub returns c - o in whole days, independent of DST transitions.
func (c civil) sub(o civil) int {
	a := time.Date(c.y, c.m, c.d, 0, 0, 0, 0, time.UTC)
	b := time.Date(o.y, o.m, o.d, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b).Hours() / 24)
}
