// Package viewstate keeps the detail panel in lockstep with the URL.
//
// The panel's open/closed state is never stored as its own boolean; it is
// derived on every render from the "detail" and "type" query parameters, so
// forward/back navigation, reloads and deep links can never diverge from
// what the panel shows.
package viewstate

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.llib.dev/frameless/pkg/enum"
	"go.llib.dev/frameless/pkg/logger"
	"go.llib.dev/frameless/pkg/logging"

	"github.com/neighborline/core/pkg/activity"
)

const (
	// ParamDetail carries either a raw entity id,
	// or a derived activity group id starting with activity.IDPrefix.
	ParamDetail = "detail"
	// ParamType tells how ParamDetail is to be interpreted.
	ParamType = "type"
)

// PanelType is the value set of the "type" query parameter.
type PanelType string

const (
	TypeItem  PanelType = "item"
	TypeGroup PanelType = "activity_group"
)

var _ = enum.Register[PanelType](TypeItem, TypeGroup)

// State is the derived state of the detail panel.
type State string

const (
	// Closed: both query parameters are absent.
	Closed State = "closed"
	// OpenSingle: a single entity is on display (type=item).
	OpenSingle State = "open-single"
	// OpenGroup: a derived activity group is on display (type=activity_group).
	OpenGroup State = "open-group"
)

var _ = enum.Register[State](Closed, OpenSingle, OpenGroup)

// History abstracts the navigable URL the panel state lives in.
// Implementations wrap whatever navigation facility the embedding
// application has; Push must replace both parameters in one step.
type History interface {
	// Current returns the query parameters of the present location.
	Current() url.Values
	// Push navigates to the present location with the given query parameters.
	Push(url.Values)
}

// Sync is the state machine that keeps the panel and the URL in lockstep.
//
// The only mutable state it owns is the optimistic active-group reference,
// which bridges the gap between opening a group and the URL update
// propagating; everything else is derived from History on each Derive call.
type Sync struct {
	History History

	mu     sync.Mutex
	active *activity.Group
}

// Open shows the given activity group in the panel.
// The in-memory reference is set before the URL write, so a render between
// the two steps still finds the group and the panel never flashes closed.
func (s *Sync) Open(g activity.Group) {
	s.mu.Lock()
	s.active = &g
	s.mu.Unlock()

	q := s.History.Current()
	q.Set(ParamDetail, activity.EncodeID(g))
	q.Set(ParamType, string(TypeGroup))
	s.History.Push(q)
}

// OpenItem shows a single entity in the panel.
func (s *Sync) OpenItem(id string) {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()

	q := s.History.Current()
	q.Set(ParamDetail, id)
	q.Set(ParamType, string(TypeItem))
	s.History.Push(q)
}

// Close clears the reference and strips both parameters in a single push.
func (s *Sync) Close() {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()

	q := s.History.Current()
	q.Del(ParamDetail)
	q.Del(ParamType)
	s.History.Push(q)
}

// Snapshot is the derived panel state of a single render.
type Snapshot struct {
	State State
	// Detail is the raw value of the "detail" parameter.
	Detail string
	// Group is the resolved active group when State is OpenGroup.
	Group activity.Group
	// Pending reports an OpenGroup whose reference could not be resolved
	// from the available groups yet. The panel is still open; the caller
	// must render a loading placeholder, not a closed panel.
	Pending bool
}

// IsOpen derives the open/closed boolean of the panel.
func (sn Snapshot) IsOpen() bool { return sn.State != Closed }

// Derive recomputes the panel state from the current URL.
//
// It is called on every render, including after external navigation such as
// back/forward or a reload. An OpenGroup whose group is not among the
// available groups stays open with a pending reference; once a later Derive
// sees the group loaded, the reference resolves with no user action.
func (s *Sync) Derive(ctx context.Context, groups []activity.Group) Snapshot {
	q := s.History.Current()
	detail, typ := q.Get(ParamDetail), q.Get(ParamType)
	if detail == "" || typ == "" {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		return Snapshot{State: Closed}
	}
	switch PanelType(typ) {
	case TypeItem:
		return Snapshot{State: OpenSingle, Detail: detail}
	case TypeGroup:
		if !strings.HasPrefix(detail, activity.IDPrefix) {
			logger.Warn(ctx, "malformed activity group identifier in the URL",
				logging.Field("detail", detail))
			return Snapshot{State: Closed}
		}
		if g, ok := activity.FindByEncodedID(ctx, detail, groups); ok {
			s.mu.Lock()
			s.active = &g
			s.mu.Unlock()
			return Snapshot{State: OpenGroup, Detail: detail, Group: g}
		}
		// the available groups may lag behind a just-opened group
		s.mu.Lock()
		active := s.active
		s.mu.Unlock()
		if active != nil && activity.EncodeID(*active) == detail {
			return Snapshot{State: OpenGroup, Detail: detail, Group: *active}
		}
		return Snapshot{State: OpenGroup, Detail: detail, Pending: true}
	default:
		logger.Warn(ctx, "unrecognised detail panel type in the URL",
			logging.Field("type", typ))
		return Snapshot{State: Closed}
	}
}

// IsOpenURL reports the derived open state of raw query parameters.
func IsOpenURL(q url.Values) bool {
	return q.Get(ParamDetail) != "" && q.Get(ParamType) != ""
}
