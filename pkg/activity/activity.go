// Package activity folds raw activity records into displayable groups and
// derives the stable identifiers the detail panel is deep-linked by.
//
// Group identifiers are pure functions of the group's content; they are never
// stored, and recomputing them from the same members always yields the same
// identifier regardless of member ordering.
package activity

import (
	"context"
	"time"

	"go.llib.dev/frameless/pkg/enum"
	"go.llib.dev/frameless/pkg/logger"
	"go.llib.dev/frameless/pkg/logging"
	"go.llib.dev/frameless/pkg/stringkit"
)

// Record is a single activity entry of the platform feed.
type Record struct {
	ID        string `ext:"id"`
	ActorID   string
	Type      string
	CreatedAt time.Time
}

type GroupKind string

const (
	// KindSingle is a group that wraps exactly one record.
	KindSingle GroupKind = "single"
	// KindGrouped is a group of records folded together by actor and type.
	KindGrouped GroupKind = "grouped"
)

var _ = enum.Register[GroupKind](KindSingle, KindGrouped)

// Group is one or more records folded into a single displayable unit.
// It has no independent persistence; it is recomputed from raw records
// on every render.
type Group struct {
	Kind    GroupKind `enum:"single;grouped;"`
	ActorID string
	Type    string
	Members []Record
}

// Single wraps one record as its own group.
func Single(r Record) Group {
	return Group{
		Kind:    KindSingle,
		ActorID: r.ActorID,
		Type:    r.Type,
		Members: []Record{r},
	}
}

// Grouped folds records of the same actor and activity type together.
func Grouped(actorID, activityType string, members ...Record) Group {
	return Group{
		Kind:    KindGrouped,
		ActorID: actorID,
		Type:    activityType,
		Members: members,
	}
}

// FoldFunc decides whether two records belong in the same group.
// The predicate is collaborator supplied; the package only guarantees
// deterministic identifiers over whatever partition it produces.
type FoldFunc func(a, b Record) bool

// Fold partitions the records with the predicate, in input order.
// Partitions of one stay KindSingle, larger ones become KindGrouped
// keyed by their first member's actor and type.
func Fold(records []Record, sameGroup FoldFunc) []Group {
	var buckets [][]Record
fold:
	for _, r := range records {
		for i, bucket := range buckets {
			if sameGroup(bucket[0], r) {
				buckets[i] = append(bucket, r)
				continue fold
			}
		}
		buckets = append(buckets, []Record{r})
	}
	groups := make([]Group, 0, len(buckets))
	for _, bucket := range buckets {
		if len(bucket) == 1 {
			groups = append(groups, Single(bucket[0]))
			continue
		}
		groups = append(groups, Grouped(bucket[0].ActorID, bucket[0].Type, bucket...))
	}
	return groups
}

// IDPrefix starts every encoded group identifier.
const IDPrefix = "group-"

// EncodeID derives the group's identifier.
//
//	single:  group-{recordID}
//	grouped: group-{actorID}-{normalised activity type}
//
// The identifier is independent of member ordering: a single group has one
// member, and a grouped identifier uses only the actor and the type.
func EncodeID(g Group) string {
	if g.Kind == KindSingle && 0 < len(g.Members) {
		return IDPrefix + g.Members[0].ID
	}
	return IDPrefix + g.ActorID + "-" + stringkit.ToKebab(g.Type)
}

// FindByEncodedID scans the groups, recomputing each candidate's identifier.
// A miss is a recoverable condition, typically a deep link whose data has not
// loaded yet; it is logged at warning level and reported as not-found,
// letting the caller render a loading or empty placeholder.
func FindByEncodedID(ctx context.Context, id string, groups []Group) (Group, bool) {
	for _, g := range groups {
		if EncodeID(g) == id {
			return g, true
		}
	}
	logger.Warn(ctx, "no activity group matched the requested identifier",
		logging.Field("id", id),
		logging.Field("groups", len(groups)))
	return Group{}, false
}
