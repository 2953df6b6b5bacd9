package conditions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/events"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/reqctx"
	"github.com/keyxmakerx/chronicle-activity/internal/hooks"
)

// monday is 2026-10-19.
var monday = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func admin() *reqctx.User {
	return &reqctx.User{ID: 1, Login: "admin", Roles: []string{"administrator"}, Caps: []string{"manage_options"}}
}

func input(c events.Conditions) Input {
	return Input{
		Def: events.Definition{ID: 5000, Group: "user", Slug: "wp_login", Severity: events.SeverityNotice, Conditions: c},
		Req: reqctx.Request{User: admin(), Screen: reqctx.ScreenAdmin, PageNow: "users.php", IP: "10.1.2.3"},
		Now: monday,
	}
}

func TestPreCheck(t *testing.T) {
	off := false
	tests := []struct {
		name string
		cond events.Conditions
		req  func(*reqctx.Request)
		want bool
	}{
		{"no conditions", events.Conditions{}, nil, true},
		{"kill switch", events.Conditions{CanEnable: &off}, nil, false},
		{"screen match", events.Conditions{Screen: []string{"public", "admin"}}, nil, true},
		{"screen miss", events.Conditions{Screen: []string{"public"}}, nil, false},
		{"multisite veto", events.Conditions{Screen: []string{"admin", "multisite"}}, nil, false},
		{"not multisite alone", events.Conditions{Screen: []string{"not_multisite"}}, nil, true},
		{"not multisite veto", events.Conditions{Screen: []string{"admin", "not_multisite"}},
			func(r *reqctx.Request) { r.Multisite = true }, false},
		{"hyphenated not multisite veto", events.Conditions{Screen: []string{"admin", "not-multisite"}},
			func(r *reqctx.Request) { r.Multisite = true }, false},
		{"hyphenated not multisite alone", events.Conditions{Screen: []string{"not-multisite"}}, nil, true},
		{"pagenow miss", events.Conditions{PageNow: []string{"post.php"}}, nil, false},
		{"pagenow skipped when async", events.Conditions{PageNow: []string{"post.php"}},
			func(r *reqctx.Request) { r.Async = true }, true},
		{"logged in required", events.Conditions{UserState: "logged_in"},
			func(r *reqctx.Request) { r.User = nil }, false},
		{"logged out required", events.Conditions{UserState: "logged_out"}, nil, false},
		{"caps held", events.Conditions{LoggedInUserCaps: []string{"edit_posts", "manage_options"}}, nil, true},
		{"caps missing", events.Conditions{LoggedInUserCaps: []string{"edit_posts"}}, nil, false},
		{"event id listed", events.Conditions{EventIDs: []int{5000}}, nil, true},
		{"event id excluded", events.Conditions{ExcludeEventIDs: []int{5000}}, nil, false},
		{"slug excluded", events.Conditions{ExcludeEventSlugs: []string{"wp_login"}}, nil, false},
		{"ip cidr", events.Conditions{IPs: []string{"10.0.0.0/8"}}, nil, true},
		{"ip excluded exact", events.Conditions{ExcludeIPs: []string{"10.1.2.3"}}, nil, false},
		{"severity excluded", events.Conditions{ExcludeSeverities: []string{"notice"}}, nil, false},
		{"weekday abbrev", events.Conditions{Weekdays: []string{"mon"}}, nil, true},
		{"weekday excluded", events.Conditions{ExcludeWeekdays: []string{"Monday"}}, nil, false},
	}

	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(tt.cond)
			if tt.req != nil {
				tt.req(&in.Req)
			}
			assert.Equal(t, tt.want, e.PreCheck(in))
		})
	}
}

func TestIgnorable(t *testing.T) {
	e := New()

	in := input(events.Conditions{ExcludePostTypes: []string{"revision"}})
	in.Fields = map[string]any{"post_type": "revision"}
	assert.True(t, e.Ignorable(in))

	in.Fields["post_type"] = "page"
	assert.False(t, e.Ignorable(in))

	in = input(events.Conditions{ObjectIDs: []int64{42}})
	in.ObjectID = 42
	assert.False(t, e.Ignorable(in))
	in.ObjectID = 43
	assert.True(t, e.Ignorable(in))

	in = input(events.Conditions{ExcludeUserCaps: []string{"administrator"}})
	in.Target = admin()
	assert.True(t, e.Ignorable(in), "target user role counts as a capability")

	in = input(events.Conditions{AuthorIDs: []int64{7}})
	assert.False(t, e.Ignorable(in), "missing field cannot make an occurrence ignorable")
	in.Fields = map[string]any{"post_author": float64(7)}
	assert.False(t, e.Ignorable(in))
}

func TestPhasesAreDisjoint(t *testing.T) {
	e := New()
	pre := e.PreCheckNames()
	for _, n := range e.IgnoreNames() {
		assert.NotContains(t, pre, n)
	}
	assert.Contains(t, e.IgnoreNames(), events.CondUserCaps)
}

func TestIgnoreIsNegationOfCheck(t *testing.T) {
	e := New()
	cases := []events.Conditions{
		{Screen: []string{"public"}},
		{Screen: []string{"admin"}},
		{UserState: "logged_in"},
		{ExcludeIPs: []string{"10.0.0.0/8"}},
		{Weekdays: []string{"sunday"}},
		{PostTypes: []string{"post"}},
		{ExcludeObjectIDs: []int64{42}},
		{SiteIDs: []int64{1}},
	}
	names := append(e.PreCheckNames(), e.IgnoreNames()...)
	for _, c := range cases {
		in := input(c)
		in.ObjectID = 42
		in.Req.SiteID = 2
		in.Fields = map[string]any{"post_type": "page"}
		for _, name := range names {
			assert.Equal(t, !e.Check(name, in), e.Ignore(name, in), name)
		}
	}
}

func TestCheckFilterOverridesAndInversionFollows(t *testing.T) {
	h := hooks.New()
	h.AddFilter(HookCheckPrefix+events.CondScreen, func(v any, _ ...any) any {
		return true
	}, hooks.DefaultPriority)

	e := New()
	in := input(events.Conditions{Screen: []string{"public"}})
	assert.False(t, e.Check(events.CondScreen, in))

	in.Hooks = h
	assert.True(t, e.Check(events.CondScreen, in))
	assert.False(t, e.Ignore(events.CondScreen, in))
}

func TestCustomPredicatePhase(t *testing.T) {
	e := New()
	e.Register("vip_only", func(param any, in Input) bool {
		return in.Target.Can("vip")
	})

	in := input(events.Conditions{Extra: map[string]any{"vip_only": true}})
	assert.True(t, e.PreCheck(in), "custom predicates default to the ignorability phase")
	assert.True(t, e.Ignorable(in))

	e.ExtendPreCheck("vip_only")
	assert.False(t, e.PreCheck(in))
	assert.False(t, e.Ignorable(in))
}

func TestUnknownPredicatePasses(t *testing.T) {
	e := New()
	in := input(events.Conditions{Extra: map[string]any{"nobody_registered_this": true}})
	assert.False(t, e.Ignorable(in))
	assert.True(t, e.Check("nobody_registered_this", in))
}

func TestIgnorableFilter(t *testing.T) {
	h := hooks.New()
	h.AddFilter(HookEventIgnorable, func(v any, _ ...any) any { return true }, hooks.DefaultPriority)

	in := input(events.Conditions{})
	in.Hooks = h
	assert.True(t, New().Ignorable(in))
}
