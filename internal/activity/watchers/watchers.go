// Package watchers holds the handlers the shipped event catalog refers to by
// identifier. Definitions without a handler identifier use the engine's
// generic handler instead.
package watchers

import (
	"github.com/keyxmakerx/chronicle-activity/internal/activity/engine"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/flatten"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/reqctx"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/snapshot"
)

// Handler identifiers used in configs/events.yaml.
const (
	UserLogin       = "user.login"
	UserLoginFailed = "user.login_failed"
	PostUpdated     = "post.updated"
	PostMetaUpdated = "post.meta_updated"
	UserMetaUpdated = "user.meta_updated"
	TermMetaUpdated = "term.meta_updated"
	TermEdited      = "term.edited"
	OptionUpdated   = "option.updated"
	PageView        = "page.view"
)

// PostFields are the post columns compared by post.updated.
var PostFields = []string{
	"post_title", "post_content", "post_excerpt", "post_status", "post_name",
	"post_parent", "post_password", "menu_order", "comment_status", "ping_status",
}

// TermFields are the term columns compared by term.edited.
var TermFields = []string{"name", "slug", "description", "parent"}

// Handlers returns the handler table.
func Handlers() engine.Handlers {
	return engine.Handlers{
		UserLogin:       userLogin,
		UserLoginFailed: userLoginFailed,
		PostUpdated:     postUpdated,
		PostMetaUpdated: metaUpdated("post"),
		UserMetaUpdated: metaUpdated("user"),
		TermMetaUpdated: metaUpdated("term"),
		TermEdited:      termEdited,
		OptionUpdated:   optionUpdated,
		PageView:        pageView,
	}
}

// userLogin: wp_login(user_login, user).
func userLogin(ev *engine.ActiveEvent) {
	login, _ := ev.Arg(0).(string)
	u := userArg(ev.Arg(1))
	if u == nil {
		u = &reqctx.User{Login: login}
	}
	ev.SetUser(u)
	ev.SetTarget(u)
	ev.SetField("user_login", login)
	ev.SetField(engine.FieldObjectID, u.ID)
	ev.SetObjectData(map[string]any{"id": u.ID, "login": login})
}

// userLoginFailed: wp_login_failed(user_login, user_id). The user id is
// only known when the login name matched an account.
func userLoginFailed(ev *engine.ActiveEvent) {
	login, _ := ev.Arg(0).(string)
	ev.SetField("user_login", login)
	id, _ := flatten.Int(ev.Arg(1))
	ev.SetField(engine.FieldObjectID, id)
	ev.SetObjectData(map[string]any{"login": login})
}

// postUpdated: post_updated(post_id, post). Compares against the snapshot
// taken on pre_post_update; nothing changed means nothing is logged.
func postUpdated(ev *engine.ActiveEvent) {
	post, _ := ev.Arg(1).(map[string]any)
	id, _ := flatten.Int(ev.Arg(0))

	ev.SetField(engine.FieldObjectID, id)
	ev.SetField("post_id", id)
	for _, k := range []string{"post_type", "post_author", "post_title"} {
		if v, ok := post[k]; ok {
			ev.SetField(k, v)
		}
	}
	ev.SetObjectData(map[string]any{
		"id":    id,
		"title": post["post_title"],
		"type":  post["post_type"],
	})

	changed := ev.TrackChanges(snapshot.KeyPost, post, PostFields...)
	if status, ok := post["post_status"].(string); ok && len(changed) == 1 && changed[0] == "post_status" {
		ev.Override(engine.OverrideAction, "status_"+status)
	}
}

// metaUpdated: updated_<type>_meta(meta_id, object_id, meta_key, meta_value).
// The prior value comes from the raw read taken just before the write; when
// the observer discarded it as a no-op there is nothing to log. A meta key
// that is itself a registered slug redirects the occurrence to that
// definition.
func metaUpdated(metaType string) engine.Handler {
	return func(ev *engine.ActiveEvent) {
		id, _ := flatten.Int(ev.Arg(1))
		key, _ := ev.Arg(2).(string)
		snapKey := snapshot.MetaKey(metaType, id, key)
		snap := ev.Snapshots().Get(snapKey)
		if key == "" || snap == nil {
			ev.Skip()
			return
		}
		if owner, _ := flatten.Int(snap["object_id"]); owner != id {
			ev.Skip()
			return
		}
		// The write happened; a later no-op on the same entry must not
		// reuse this prior value.
		defer ev.Snapshots().Forget(snapKey)
		ev.SetField(engine.FieldObjectID, id)
		ev.SetField(engine.FieldMetaKey, key)
		ev.SetField("meta_value", ev.Arg(3))
		ev.SetField("previous", ev.Snapshots().Field(snapKey, "meta_value"))
		ev.SetObjectData(map[string]any{"type": metaType, "id": id, "meta_key": key})
	}
}

// termEdited: edited_term(term_id, tt_id, taxonomy, term).
func termEdited(ev *engine.ActiveEvent) {
	term, _ := ev.Arg(3).(map[string]any)
	id, _ := flatten.Int(ev.Arg(0))
	taxonomy, _ := ev.Arg(2).(string)

	ev.SetField(engine.FieldObjectID, id)
	ev.SetField("term_id", id)
	ev.SetField("taxonomy", taxonomy)
	ev.SetField("name", term["name"])
	ev.SetObjectData(map[string]any{"id": id, "taxonomy": taxonomy, "name": term["name"]})
	ev.TrackChanges(snapshot.KeyTerm, term, TermFields...)
}

// optionUpdated: updated_option(option, old_value, value). Settings screens
// save options and then redirect, so the occurrence is deferred to the
// redirect and logged once per option.
func optionUpdated(ev *engine.ActiveEvent) {
	name, _ := ev.Arg(0).(string)
	prev, next := ev.Arg(1), ev.Arg(2)
	if flatten.Map(prev) == flatten.Map(next) {
		ev.Skip()
		return
	}
	ev.SetField("option", name)
	ev.SetField("old_value", prev)
	ev.SetField("new_value", next)
	ev.SetObjectData(map[string]any{"option": name})
	if !ev.Request().Async {
		ev.Defer()
	}
}

// pageView: template_redirect(post_id, post_type). Counted per object and
// visitor address within the aggregation window.
func pageView(ev *engine.ActiveEvent) {
	id, _ := flatten.Int(ev.Arg(0))
	ev.SetField(engine.FieldObjectID, id)
	ev.SetField("post_id", id)
	ev.SetField("post_type", ev.Arg(1))
	ev.SetField("url", ev.Request().URL)
}

// userArg reads a user passed as *reqctx.User or as a decoded JSON object.
func userArg(v any) *reqctx.User {
	switch u := v.(type) {
	case *reqctx.User:
		return u
	case map[string]any:
		id, _ := flatten.Int(u["id"])
		out := &reqctx.User{ID: id}
		out.Login, _ = u["login"].(string)
		out.DisplayName, _ = u["display_name"].(string)
		out.Email, _ = u["email"].(string)
		if roles, ok := u["roles"].([]any); ok {
			for _, r := range roles {
				if s, ok := r.(string); ok {
					out.Roles = append(out.Roles, s)
				}
			}
		}
		return out
	}
	return nil
}
