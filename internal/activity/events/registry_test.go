package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/chronicle-activity/internal/hooks"
)

func spec(id int, slug string) Spec {
	return Spec{
		ID:      id,
		Slug:    slug,
		Message: MessageTemplate{{Field: FieldMain, Source: Literal("Something happened")}},
		Handler: &HandlerSpec{},
	}
}

func TestNormalize_AppliesDefaults(t *testing.T) {
	r := NewRegistry()
	r.Register(Group{Name: "user", Events: []Spec{spec(5154, "add_user_to_blog")}})
	r.Normalize(NormalizeOptions{})

	def, ok := r.ByID(5154)
	require.True(t, ok)
	assert.Equal(t, SeverityNotice, def.Severity)
	assert.Equal(t, EventHandler{Kind: KindAction, Hook: "add_user_to_blog", Priority: 10, Arity: 1}, def.Handler)
	assert.Equal(t, Notification{SMS: true, Email: true}, def.Notification)
	assert.False(t, def.ErrorFlag)
	assert.False(t, def.Aggregatable)
	assert.Equal(t, "user", def.Object)

	bySlug, ok := r.BySlug("user", "add_user_to_blog")
	require.True(t, ok)
	assert.Equal(t, 5154, bySlug.ID)
}

func TestNormalize_FirstRegisteredIDWins(t *testing.T) {
	r := NewRegistry()
	r.Register(
		Group{Name: "user", Events: []Spec{spec(5154, "add_user_to_blog")}},
		Group{Name: "plugin", Events: []Spec{spec(5154, "activated_plugin")}},
	)

	assert.NotPanics(t, func() { r.Normalize(NormalizeOptions{}) })

	def, ok := r.ByID(5154)
	require.True(t, ok)
	assert.Equal(t, "user", def.Group)
	_, ok = r.BySlug("plugin", "activated_plugin")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestNormalize_DropsMalformedSilently(t *testing.T) {
	noMessage := spec(5001, "no_message")
	noMessage.Message = nil
	noHandler := spec(5002, "no_handler")
	noHandler.Handler = nil
	badCallback := spec(5003, "bad_callback")
	badCallback.Handler = &HandlerSpec{Callback: "missing"}
	shortID := spec(999, "short_id")
	dupSlug := spec(5005, "ok")

	r := NewRegistry()
	r.Register(Group{Name: "user", Events: []Spec{
		noMessage, noHandler, badCallback, shortID, spec(5004, "ok"), dupSlug,
	}})
	r.Normalize(NormalizeOptions{Callable: func(cb string) bool { return cb == "known" }})

	assert.Equal(t, 1, r.Len())
	_, ok := r.ByID(5004)
	assert.True(t, ok)
	_, ok = r.ByID(5005)
	assert.False(t, ok)
}

func TestNormalize_EventIDOverride(t *testing.T) {
	long := spec(1, "override")
	long.Message = long.Message.With(FieldEventID, Literal("6101"))
	short := spec(6200, "short_override")
	short.Message = short.Message.With(FieldEventID, Literal("62"))
	junk := spec(6300, "junk_override")
	junk.Message = junk.Message.With(FieldEventID, Literal("abcd"))

	r := NewRegistry()
	r.Register(Group{Name: "post", Events: []Spec{long, short, junk}})
	r.Normalize(NormalizeOptions{})

	_, ok := r.ByID(6101)
	assert.True(t, ok, "a 4+ character override replaces the id")
	_, ok = r.ByID(6200)
	assert.True(t, ok, "a short override is ignored")
	_, ok = r.BySlug("post", "junk_override")
	assert.False(t, ok)
}

func TestNormalize_PreCheckDisablesButKeeps(t *testing.T) {
	r := NewRegistry()
	r.Register(Group{Name: "user", Events: []Spec{spec(5000, "wp_login"), spec(5002, "wp_logout")}})
	r.Normalize(NormalizeOptions{PreCheck: func(d Definition) bool { return d.Slug != "wp_logout" }})

	def, ok := r.ByID(5002)
	require.True(t, ok)
	assert.True(t, def.Disabled)

	def, _ = r.ByID(5000)
	assert.False(t, def.Disabled)
}

func TestNormalize_EnabledFilterOverridesVerdict(t *testing.T) {
	h := hooks.New()
	h.AddFilter(HookEventEnabled, func(v any, args ...any) any {
		return args[0].(Definition).Slug == "wp_logout"
	}, hooks.DefaultPriority)

	r := NewRegistry()
	r.Register(Group{Name: "user", Events: []Spec{spec(5000, "wp_login"), spec(5002, "wp_logout")}})
	r.Normalize(NormalizeOptions{
		PreCheck: func(Definition) bool { return false },
		Hooks:    h,
	})

	login, _ := r.ByID(5000)
	logout, _ := r.ByID(5002)
	assert.True(t, login.Disabled)
	assert.False(t, logout.Disabled)
}

func TestNormalize_GroupsFilterAndOnce(t *testing.T) {
	h := hooks.New()
	h.AddFilter(HookEventGroups, func(v any, _ ...any) any {
		return append(v.([]Group), Group{Name: "theme", Events: []Spec{spec(7100, "switch_theme")}})
	}, hooks.DefaultPriority)

	r := NewRegistry()
	r.Normalize(NormalizeOptions{Hooks: h})
	r.Register(Group{Name: "user", Events: []Spec{spec(5000, "wp_login")}})
	r.Normalize(NormalizeOptions{})

	assert.Equal(t, 1, r.Len())
	_, ok := r.BySlug("theme", "switch_theme")
	assert.True(t, ok)
}

func TestEmptyRegistryIsValid(t *testing.T) {
	r := NewRegistry()
	r.Normalize(NormalizeOptions{})
	assert.Zero(t, r.Len())
	_, ok := r.Resolve(Ref{Group: "user", Slug: "wp_login"})
	assert.False(t, ok)
}

func TestDefinition_Counted(t *testing.T) {
	assert.False(t, Definition{ErrorFlag: true}.Counted())
	assert.True(t, Definition{ErrorFlag: true, Successor: &Ref{ID: 5000}}.Counted())
	assert.True(t, Definition{Aggregatable: true}.Counted())
}
