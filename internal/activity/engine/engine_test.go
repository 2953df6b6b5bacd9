package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/events"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/reqctx"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/store"
	"github.com/keyxmakerx/chronicle-activity/internal/hooks"
)

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time         { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func intp(n int) *int { return &n }

func mainMsg(text string) events.MessageTemplate {
	return events.MessageTemplate{{Field: events.FieldMain, Source: events.Literal(text)}}
}

func addUserToBlog() events.Spec {
	return events.Spec{
		ID:      5154,
		Slug:    "add_user_to_blog",
		Message: mainMsg("Added a user to the site").With("role", events.Lookup("role")),
		Handler: &events.HandlerSpec{Arity: intp(3)},
		Args:    []string{"object_id", "role", "blog_id"},
	}
}

func loginFailed() events.Spec {
	return events.Spec{
		ID:        5053,
		Slug:      "wp_login_failed",
		Severity:  events.SeverityWarning,
		Message:   mainMsg("Failed login attempts: " + CountMarker),
		Handler:   &events.HandlerSpec{},
		Args:      []string{"object_id"},
		ErrorFlag: true,
		Successor: &events.Ref{Group: "user", Slug: "add_user_to_blog"},
	}
}

type fixture struct {
	engine *Engine
	repo   *store.MemoryRepository
	clock  *clock
	hooks  *hooks.Hooks
}

func newFixture(t *testing.T, cfg Config, handlers Handlers, groups ...events.Group) *fixture {
	t.Helper()
	f := &fixture{repo: store.NewMemoryRepository(), clock: &clock{t: t0}, hooks: hooks.New()}
	f.engine = New(Options{
		Config:   cfg,
		Groups:   groups,
		Hooks:    f.hooks,
		Repo:     f.repo,
		Handlers: handlers,
		Metrics:  NewMetrics(prometheus.NewRegistry()),
		Now:      f.clock.now,
	})
	return f
}

func admin() *reqctx.User {
	return &reqctx.User{ID: 7, Login: "admin", Roles: []string{"administrator"}}
}

func (f *fixture) begin(u *reqctx.User) *Session {
	return f.engine.Begin(context.Background(), reqctx.Request{User: u, Screen: reqctx.ScreenAdmin, IP: "10.0.0.1"}, nil)
}

func TestScenarioA_InsertsOneRecord(t *testing.T) {
	f := newFixture(t, Config{Window: time.Hour}, nil, events.Group{Name: "user", Events: []events.Spec{addUserToBlog()}})

	s := f.begin(admin())
	s.Hooks().DoAction("add_user_to_blog", 42, "editor", 1)

	recs := f.repo.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, 5154, recs[0].EventID)
	assert.Equal(t, int64(42), recs[0].ObjectID)
	assert.Equal(t, int64(7), recs[0].UserID)
	assert.Equal(t, 1, recs[0].LogCounter)
	assert.Equal(t, "user", recs[0].EventGroup)
	assert.Contains(t, recs[0].Message, "role=editor")
	assert.Contains(t, recs[0].UserData, "login=admin")
	assert.Equal(t, []Result{{EventID: 5154, Group: "user", Slug: "add_user_to_blog", Outcome: OutcomeInserted, RecordID: 1, Counter: 1}}, s.Results())
}

func TestScenarioB_ErrorCounterIncrements(t *testing.T) {
	f := newFixture(t, Config{Window: time.Hour}, nil,
		events.Group{Name: "user", Events: []events.Spec{loginFailed(), addUserToBlog()}})

	var counters []int
	for j := 0; j < 3; j++ {
		s := f.begin(nil)
		s.Hooks().DoAction("wp_login_failed", 42)
		res := s.Results()
		require.Len(t, res, 1)
		counters = append(counters, res[0].Counter)
		f.clock.advance(time.Minute)
	}

	assert.Equal(t, []int{1, 2, 3}, counters)
	recs := f.repo.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, 3, recs[0].LogCounter)
	assert.Contains(t, recs[0].Message, "Failed login attempts: 3")
	assert.Contains(t, recs[0].Metadata, "#"+t0.Add(2*time.Minute).Format(time.RFC3339), "update banner appended")
}

func TestScenarioC_SuccessorClosesTheRun(t *testing.T) {
	f := newFixture(t, Config{Window: time.Hour}, nil,
		events.Group{Name: "user", Events: []events.Spec{loginFailed(), addUserToBlog()}})

	f.begin(nil).Hooks().DoAction("wp_login_failed", 42)
	f.clock.advance(time.Minute)
	f.begin(admin()).Hooks().DoAction("add_user_to_blog", 42, "subscriber", 1)
	f.clock.advance(time.Minute)
	s := f.begin(nil)
	s.Hooks().DoAction("wp_login_failed", 42)

	assert.Equal(t, OutcomeInserted, s.Results()[0].Outcome)
	recs := f.repo.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, 5053, recs[2].EventID)
	assert.Equal(t, 1, recs[2].LogCounter)
}

func TestScenarioD_LoggedInOnlyDisabledForAnonymous(t *testing.T) {
	spec := addUserToBlog()
	spec.Conditions = &events.Conditions{UserState: "logged_in"}
	f := newFixture(t, Config{}, nil, events.Group{Name: "user", Events: []events.Spec{spec}})

	s := f.begin(nil)
	def, ok := s.Registry().ByID(5154)
	require.True(t, ok)
	assert.True(t, def.Disabled)

	s.Hooks().DoAction("add_user_to_blog", 42, "editor", 1)
	assert.False(t, s.Trigger("user", "add_user_to_blog", 42))
	assert.Empty(t, f.repo.Records())
}

func TestSelfSuccessorAlwaysInserts(t *testing.T) {
	spec := loginFailed()
	spec.Successor = &events.Ref{ID: 5053}
	f := newFixture(t, Config{}, nil, events.Group{Name: "user", Events: []events.Spec{spec}})

	for j := 0; j < 2; j++ {
		f.begin(nil).Hooks().DoAction("wp_login_failed", 42)
	}
	assert.Len(t, f.repo.Records(), 2)
}

func TestAggregationWindowBoundary(t *testing.T) {
	pageView := events.Spec{
		ID:           6100,
		Slug:         "page_view",
		Message:      mainMsg("Viewed a page"),
		Handler:      &events.HandlerSpec{},
		Args:         []string{"object_id"},
		Aggregatable: true,
	}
	f := newFixture(t, Config{Window: time.Hour}, nil, events.Group{Name: "post", Events: []events.Spec{pageView}})

	f.begin(nil).Hooks().DoAction("page_view", 9)

	f.clock.advance(time.Hour)
	s := f.begin(nil)
	s.Hooks().DoAction("page_view", 9)
	assert.Equal(t, OutcomeUpdated, s.Results()[0].Outcome, "exactly at the boundary is inside the window")

	f.clock.advance(time.Hour + time.Nanosecond)
	s = f.begin(nil)
	s.Hooks().DoAction("page_view", 9)
	assert.Equal(t, OutcomeInserted, s.Results()[0].Outcome, "one unit past the boundary is outside")

	recs := f.repo.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, 2, recs[0].LogCounter)
}

func TestZeroWindowMatchesAllTime(t *testing.T) {
	pageView := events.Spec{ID: 6100, Slug: "page_view", Message: mainMsg("Viewed"), Handler: &events.HandlerSpec{}, Aggregatable: true}
	f := newFixture(t, Config{}, nil, events.Group{Name: "post", Events: []events.Spec{pageView}})

	f.begin(nil).Hooks().DoAction("page_view", 9)
	f.clock.advance(24 * 365 * time.Hour)
	f.begin(nil).Hooks().DoAction("page_view", 9)

	recs := f.repo.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].LogCounter)
}

func postUpdated() events.Spec {
	return events.Spec{
		ID:   6000,
		Slug: "post_updated",
		Message: mainMsg("Updated a post").
			With("title", events.Lookup("new", "post_title")).
			With("previous", events.Before("post", "post_title")).
			With("secret", events.Lookup("secret")),
		Handler: &events.HandlerSpec{Arity: intp(2), Callback: "post.updated"},
	}
}

var postHandlers = Handlers{
	"post.updated": func(ev *ActiveEvent) {
		current, _ := ev.Arg(1).(map[string]any)
		ev.Override(OverrideObjectID, ev.Arg(0))
		ev.SetField("secret", Ignore)
		ev.TrackChanges("post", current, "post_title", "post_status")
	},
}

func TestNoopUpdateIsSuppressed(t *testing.T) {
	f := newFixture(t, Config{}, postHandlers, events.Group{Name: "post", Events: []events.Spec{postUpdated()}})

	s := f.begin(admin())
	s.Hooks().DoAction("pre_post_update", 42, map[string]any{"post_title": "Same", "post_status": "publish"})
	s.Hooks().DoAction("post_updated", 42, map[string]any{"post_title": "Same", "post_status": "publish"})

	assert.Empty(t, f.repo.Records())
	assert.Equal(t, OutcomeSuppressed, s.Results()[0].Outcome)
}

func TestChangedPostIsLoggedWithRoleAndWithoutIgnoredField(t *testing.T) {
	f := newFixture(t, Config{}, postHandlers, events.Group{Name: "post", Events: []events.Spec{postUpdated()}})

	s := f.begin(&reqctx.User{ID: 3, Roles: []string{"shop_manager"}})
	s.Hooks().DoAction("pre_post_update", 42, map[string]any{"post_title": "Old"})
	s.Hooks().DoAction("post_updated", 42, map[string]any{"post_title": "New"})

	recs := f.repo.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, int64(42), recs[0].ObjectID)
	assert.Contains(t, recs[0].Message, "_main=Shop Manager: Updated a post")
	assert.Contains(t, recs[0].Message, "title=New")
	assert.Contains(t, recs[0].Message, "previous=Old")
	assert.NotContains(t, recs[0].Message, "secret")
}

func TestWithRoleLowercasesArticle(t *testing.T) {
	u := &reqctx.User{ID: 1, Roles: []string{"editor"}}
	assert.Equal(t, "Editor: a post was published", withRole("A post was published", u))
	assert.Equal(t, "Editor: an image was uploaded", withRole("An image was uploaded", u))
	assert.Equal(t, "Anonymous visit", withRole("Anonymous visit", &reqctx.User{}))
}

func TestMetaRedirection(t *testing.T) {
	group := events.Group{Name: "user", Events: []events.Spec{
		{ID: 5100, Slug: "updated_user_meta", Message: mainMsg("Updated user meta"), Handler: &events.HandlerSpec{Arity: intp(3)},
			Args: []string{"object_id", "meta_key", "meta_value"}},
		{ID: 5101, Slug: "nickname", Message: mainMsg("Changed nickname").With("to", events.Lookup("meta_value")), Handler: &events.HandlerSpec{Hook: "never_fired"}},
	}}
	f := newFixture(t, Config{}, nil, group)

	s := f.begin(admin())
	s.Hooks().DoAction("updated_user_meta", 7, "nickname", "bob")
	s.Hooks().DoAction("updated_user_meta", 7, "locale", "de_DE")

	recs := f.repo.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, 5101, recs[0].EventID)
	assert.Equal(t, "nickname", recs[0].EventSlug)
	assert.Contains(t, recs[0].Message, "to=bob")
	assert.Equal(t, 5100, recs[1].EventID)
}

func TestNestedOccurrencesRunAfterTheActiveOne(t *testing.T) {
	var order []string
	handlers := Handlers{
		"outer": func(ev *ActiveEvent) {
			order = append(order, "outer:start")
			ev.session.Hooks().DoAction("inner_hook", 2)
			order = append(order, "outer:end")
			ev.SetField(FieldObjectID, 1)
		},
		"inner": func(ev *ActiveEvent) {
			order = append(order, "inner")
			ev.SetField(FieldObjectID, 2)
		},
	}
	group := events.Group{Name: "misc", Events: []events.Spec{
		{ID: 9000, Slug: "outer_hook", Message: mainMsg("Outer"), Handler: &events.HandlerSpec{Callback: "outer"}},
		{ID: 9001, Slug: "inner_hook", Message: mainMsg("Inner"), Handler: &events.HandlerSpec{Callback: "inner"}},
	}}
	f := newFixture(t, Config{}, handlers, group)

	f.begin(nil).Hooks().DoAction("outer_hook", 1)

	assert.Equal(t, []string{"outer:start", "outer:end", "inner"}, order)
	recs := f.repo.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, 9000, recs[0].EventID)
	assert.Equal(t, 9001, recs[1].EventID)
}

func TestOverridesApplyToOneOccurrence(t *testing.T) {
	handlers := Handlers{"escalate": func(ev *ActiveEvent) {
		ev.Override(OverrideSeverity, "critical")
		ev.Override(OverrideTitle, "Escalated")
		ev.Override(OverrideMessage, "Something serious")
	}}
	group := events.Group{Name: "misc", Events: []events.Spec{
		{ID: 9100, Slug: "thing", Message: mainMsg("Something"), Handler: &events.HandlerSpec{Callback: "escalate"}},
	}}
	f := newFixture(t, Config{}, handlers, group)

	s := f.begin(nil)
	s.Hooks().DoAction("thing")

	recs := f.repo.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "critical", recs[0].Severity)
	assert.Equal(t, "Escalated", recs[0].EventTitle)
	assert.Equal(t, "_main=Something serious", recs[0].Message)

	def, _ := s.Registry().ByID(9100)
	assert.Equal(t, events.SeverityNotice, def.Severity)
	assert.Empty(t, def.Title)
}

func TestIgnorableOccurrenceIsSkipped(t *testing.T) {
	spec := addUserToBlog()
	spec.Conditions = &events.Conditions{ExcludeObjectIDs: []int64{42}}
	f := newFixture(t, Config{}, nil, events.Group{Name: "user", Events: []events.Spec{spec}})

	s := f.begin(admin())
	s.Hooks().DoAction("add_user_to_blog", 42, "editor", 1)
	s.Hooks().DoAction("add_user_to_blog", 43, "editor", 1)

	require.Len(t, s.Results(), 2)
	assert.Equal(t, OutcomeIgnored, s.Results()[0].Outcome)
	assert.Equal(t, OutcomeInserted, s.Results()[1].Outcome)
}

func TestLoggableFilterVetoes(t *testing.T) {
	f := newFixture(t, Config{}, nil, events.Group{Name: "user", Events: []events.Spec{addUserToBlog()}})
	f.hooks.AddFilter(HookEventLoggable, func(v any, args ...any) any {
		return args[0].(*ActiveEvent).objectID() != 42
	}, hooks.DefaultPriority)

	s := f.begin(admin())
	s.Hooks().DoAction("add_user_to_blog", 42, "editor", 1)
	assert.Empty(t, f.repo.Records())
	assert.Equal(t, OutcomeSuppressed, s.Results()[0].Outcome)
}

func TestMessageHooks(t *testing.T) {
	f := newFixture(t, Config{}, nil, events.Group{Name: "user", Events: []events.Spec{addUserToBlog()}})
	f.hooks.AddFilter(HookMainMessage, func(v any, _ ...any) any { return v.(string) + "!" }, hooks.DefaultPriority)
	f.hooks.AddFilter(HookFieldInfo, func(v any, args ...any) any {
		if args[0] == "role" {
			return "<" + v.(string) + ">"
		}
		return v
	}, hooks.DefaultPriority)
	f.hooks.AddFilter(HookMessageBeforeSave, func(v any, _ ...any) any { return v.(string) + "␟tag=x" }, hooks.DefaultPriority)

	f.begin(nil).Hooks().DoAction("add_user_to_blog", 42, "editor", 1)

	recs := f.repo.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "_main=Added a user to the site!␟role=<editor>␟tag=x", recs[0].Message)
}

func TestDeferredReplayedOnRedirect(t *testing.T) {
	handlers := Handlers{"option.deferred": func(ev *ActiveEvent) {
		ev.SetField("option", ev.Arg(0))
		ev.Defer()
	}}
	group := events.Group{Name: "option", Events: []events.Spec{
		{ID: 7000, Slug: "updated_option", Message: mainMsg("Updated an option").With("option", events.Lookup("option")),
			Handler: &events.HandlerSpec{Callback: "option.deferred"}},
	}}
	f := newFixture(t, Config{}, handlers, group)

	s := f.begin(admin())
	s.Hooks().DoAction("updated_option", "blogname")
	s.Hooks().DoAction("updated_option", "blogname")
	assert.Empty(t, f.repo.Records())
	assert.Equal(t, OutcomeDeferred, s.Results()[0].Outcome)
	assert.Equal(t, OutcomeDropped, s.Results()[1].Outcome, "duplicate deferral is discarded")

	s.Hooks().DoAction(HookRedirect, "/wp-admin/options.php")
	s.Hooks().DoAction(HookRedirect, "/wp-admin/options.php")

	recs := f.repo.Records()
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Message, "option=blogname")
}

func TestDeferredReplayedOnNextRequestOnce(t *testing.T) {
	handlers := Handlers{"option.deferred": func(ev *ActiveEvent) { ev.Defer() }}
	group := events.Group{Name: "option", Events: []events.Spec{
		{ID: 7000, Slug: "updated_option", Message: mainMsg("Updated an option"), Handler: &events.HandlerSpec{Callback: "option.deferred"}},
	}}
	f := newFixture(t, Config{PendingTTL: time.Hour}, handlers, group)

	s := f.begin(admin())
	s.Hooks().DoAction("updated_option", "blogname")
	s.End()
	assert.Empty(t, f.repo.Records())

	f.begin(&reqctx.User{ID: 99}).End()
	assert.Empty(t, f.repo.Records(), "another actor does not replay")

	f.begin(admin()).End()
	f.begin(admin()).End()
	assert.Len(t, f.repo.Records(), 1)
}

type failingRepo struct {
	*store.MemoryRepository
}

func (failingRepo) Insert(context.Context, *store.LogRecord) error {
	return errors.New("disk full")
}

func TestPersistenceFailure(t *testing.T) {
	for _, strict := range []bool{true, false} {
		var failed []any
		h := hooks.New()
		h.AddAction(HookLogFailed, func(args ...any) { failed = append(failed, args[1]) }, hooks.DefaultPriority, 2)

		e := New(Options{
			Config: Config{Strict: strict},
			Groups: []events.Group{{Name: "user", Events: []events.Spec{addUserToBlog()}}},
			Hooks:  h,
			Repo:   failingRepo{store.NewMemoryRepository()},
		})
		s := e.Begin(context.Background(), reqctx.Request{IP: "10.0.0.1"}, nil)

		assert.NotPanics(t, func() { s.Hooks().DoAction("add_user_to_blog", 42, "editor", 1) })
		assert.Len(t, failed, 1)
		assert.Equal(t, OutcomeFailed, s.Results()[0].Outcome)
		if strict {
			assert.ErrorContains(t, s.Err(), "disk full")
		} else {
			assert.NoError(t, s.Err())
		}
	}
}

func TestCurrentUserIDOverride(t *testing.T) {
	handlers := Handlers{"as_user": func(ev *ActiveEvent) {
		ev.SetField(FieldCurrentUserID, "12")
	}}
	group := events.Group{Name: "user", Events: []events.Spec{
		{ID: 5200, Slug: "wp_login", Message: mainMsg("Logged in"), Handler: &events.HandlerSpec{Callback: "as_user"}},
	}}
	f := newFixture(t, Config{}, handlers, group)

	f.begin(nil).Hooks().DoAction("wp_login")
	recs := f.repo.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, int64(12), recs[0].UserID)
}

func TestEmptyCatalogIsNoop(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	s := f.begin(admin())
	s.Hooks().DoAction("add_user_to_blog", 42)
	assert.Zero(t, s.Registry().Len())
	assert.Empty(t, s.Results())
}

func TestLookup(t *testing.T) {
	root := map[string]any{
		"post": map[string]any{"tags": []any{"a", "b"}},
		"n":    3,
	}
	v, ok := lookup(root, []string{"post", "tags", "1"})
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = lookup(root, []string{"n", "x"})
	assert.False(t, ok)
	_, ok = lookup(root, []string{"missing"})
	assert.False(t, ok)
}

func eventsGroupOption() events.Group {
	return events.Group{Name: "option", Events: []events.Spec{{
		ID:      7000,
		Slug:    "updated_option",
		Message: mainMsg("Updated an option").With("option", events.Lookup("option")),
		Handler: &events.HandlerSpec{Callback: "defer"},
	}}}
}
