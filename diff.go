package driftwatch

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// EntityKind identifies one of the two independently tracked observation domains.
type EntityKind string

const (
	// KindPorts tracks open ports on the primary target host.
	KindPorts EntityKind = "ports"
	// KindHosts tracks live hosts discovered in the monitored subnet.
	KindHosts EntityKind = "hosts"
)

// ChangeType classifies what the diff engine observed between two snapshots.
type ChangeType int

const (
	// ChangeFirstObservation fires exactly once, when no previous snapshot
	// exists for the entity kind. It carries the full current set.
	ChangeFirstObservation ChangeType = iota
	// ChangeAdded fires when elements are present now but not previously.
	ChangeAdded
	// ChangeRemoved fires when previously seen elements are gone.
	ChangeRemoved
)

// String returns a short name for the change type, used in logs and metrics labels.
func (c ChangeType) String() string {
	switch c {
	case ChangeFirstObservation:
		return "first_observation"
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Delta holds the classified difference between two snapshots of the same kind.
// The unchanged subset (previous ∩ current) is implicit and never materialized.
type Delta[T cmp.Ordered] struct {
	Added   []T
	Removed []T
}

// Change is a single notification-worthy observation produced by Evaluate.
// Elements is the changed subset (or the full set for a first observation);
// Current is always the complete just-observed set.
type Change[T cmp.Ordered] struct {
	Type     ChangeType
	Elements []T
	Current  []T
}

// Normalize returns a sorted, deduplicated copy of elems. Snapshots and deltas
// are always kept in this form so persisted files and log output stay
// deterministic.
func Normalize[T cmp.Ordered](elems []T) []T {
	out := make([]T, len(elems))
	copy(out, elems)
	slices.Sort(out)
	return slices.Compact(out)
}

// Diff computes added = current − previous and removed = previous − current.
// Both result sets are sorted and disjoint from each other and from the
// unchanged subset. Inputs need not be normalized.
func Diff[T cmp.Ordered](previous, current []T) Delta[T] {
	prevSet := make(map[T]struct{}, len(previous))
	for _, e := range previous {
		prevSet[e] = struct{}{}
	}
	curSet := make(map[T]struct{}, len(current))
	for _, e := range current {
		curSet[e] = struct{}{}
	}

	var delta Delta[T]
	for e := range curSet {
		if _, ok := prevSet[e]; !ok {
			delta.Added = append(delta.Added, e)
		}
	}
	for e := range prevSet {
		if _, ok := curSet[e]; !ok {
			delta.Removed = append(delta.Removed, e)
		}
	}

	slices.Sort(delta.Added)
	slices.Sort(delta.Removed)
	return delta
}

// Evaluate applies the notification policy to a previous/current snapshot pair.
//
// An empty previous set marks the first run for the entity kind: a single
// first-observation change carrying the full current set is returned, and no
// added/removed changes are produced for that cycle. Otherwise added and
// removed are independent checks and both may fire in the same cycle. No
// change at all yields an empty slice.
//
// The policy is identical for every element type; per-kind presentation lives
// entirely in KindDescriptor.
func Evaluate[T cmp.Ordered](previous, current []T) []Change[T] {
	current = Normalize(current)

	if len(previous) == 0 {
		return []Change[T]{{
			Type:     ChangeFirstObservation,
			Elements: current,
			Current:  current,
		}}
	}

	delta := Diff(previous, current)

	var changes []Change[T]
	if len(delta.Added) > 0 {
		changes = append(changes, Change[T]{
			Type:     ChangeAdded,
			Elements: delta.Added,
			Current:  current,
		})
	}
	if len(delta.Removed) > 0 {
		changes = append(changes, Change[T]{
			Type:     ChangeRemoved,
			Elements: delta.Removed,
			Current:  current,
		})
	}
	return changes
}

// -------------- Per-kind presentation --------------

// KindDescriptor carries the per-kind display data consumed by the notifier
// and report writer. It is the only entity-specific piece of the pipeline; the
// diff engine itself never branches on kind.
type KindDescriptor struct {
	Kind EntityKind
	// Noun names the elements in descriptions, e.g. "ports" or "hosts".
	Noun string
	// ScopeLabel names the scan scope field, e.g. "Target" or "Subnet".
	ScopeLabel string
	// CurrentLabel names the full-current-set field in alerts.
	CurrentLabel string

	FirstTitle   string
	AddedTitle   string
	RemovedTitle string
	AddedLabel   string
	RemovedLabel string

	FirstColor   int
	AddedColor   int
	RemovedColor int
}

// Embed severity colors.
const (
	colorDefault = 5814783
	colorRed     = 15158332
	colorYellow  = 16776960
	colorBlue    = 3447003
	colorPurple  = 10181046
)

// PortsDescriptor describes alert presentation for the port entity kind.
func PortsDescriptor() KindDescriptor {
	return KindDescriptor{
		Kind:         KindPorts,
		Noun:         "ports",
		ScopeLabel:   "Target",
		CurrentLabel: "All open ports",
		FirstTitle:   "First scan (ports)",
		AddedTitle:   "New ports detected",
		RemovedTitle: "Ports closed",
		AddedLabel:   "New ports",
		RemovedLabel: "Closed ports",
		FirstColor:   colorDefault,
		AddedColor:   colorRed,
		RemovedColor: colorYellow,
	}
}

// HostsDescriptor describes alert presentation for the host entity kind.
func HostsDescriptor() KindDescriptor {
	return KindDescriptor{
		Kind:         KindHosts,
		Noun:         "hosts",
		ScopeLabel:   "Subnet",
		CurrentLabel: "All active hosts",
		FirstTitle:   "First scan (hosts)",
		AddedTitle:   "New hosts detected",
		RemovedTitle: "Hosts disappeared",
		AddedLabel:   "New hosts",
		RemovedLabel: "Disappeared hosts",
		FirstColor:   colorDefault,
		AddedColor:   colorBlue,
		RemovedColor: colorPurple,
	}
}

// Title returns the embed title for a change type.
func (d KindDescriptor) Title(t ChangeType) string {
	switch t {
	case ChangeFirstObservation:
		return d.FirstTitle
	case ChangeAdded:
		return d.AddedTitle
	default:
		return d.RemovedTitle
	}
}

// Color returns the embed severity color for a change type.
func (d KindDescriptor) Color(t ChangeType) int {
	switch t {
	case ChangeFirstObservation:
		return d.FirstColor
	case ChangeAdded:
		return d.AddedColor
	default:
		return d.RemovedColor
	}
}

// ChangedLabel returns the field label for the changed subset.
func (d KindDescriptor) ChangedLabel(t ChangeType) string {
	if t == ChangeRemoved {
		return d.RemovedLabel
	}
	return d.AddedLabel
}

// FormatElements renders an element set as a comma-separated list for alert
// fields and log lines. An empty set renders as "(none)".
func FormatElements[T cmp.Ordered](elems []T) string {
	if len(elems) == 0 {
		return "(none)"
	}
	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = fmt.Sprint(e)
	}
	return strings.Join(parts, ", ")
}
