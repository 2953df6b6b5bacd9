package conditions

import (
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/events"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/flatten"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/reqctx"
)

// Screen entries that are not UI contexts but hard requirements on the
// installation type. Hyphens and underscores are interchangeable in
// catalogs, so not-multisite and not_multisite are the same entry.
const (
	screenMultisite    = "multisite"
	screenNotMultisite = "not_multisite"
)

type builtin struct {
	name string
	fn   Predicate
}

func builtins() []builtin {
	return []builtin{
		{events.CondCanEnable, canEnable},
		{events.CondScreen, screen},
		{events.CondPageNow, pageNow},
		{events.CondUserState, userState},
		{events.CondLoggedInUserCaps, loggedInUserCaps},
		{events.CondEventIDs, include(eventID)},
		{events.CondExcludeEventIDs, exclude(eventID)},
		{events.CondEventSlugs, include(eventSlug)},
		{events.CondExcludeEventSlugs, exclude(eventSlug)},
		{events.CondIPs, ips},
		{events.CondExcludeIPs, not(ips)},
		{events.CondSeverities, include(severity)},
		{events.CondExcludeSeverities, exclude(severity)},
		{events.CondWeekdays, weekdays},
		{events.CondExcludeWeekdays, not(weekdays)},

		{events.CondUserCaps, userCaps},
		{events.CondExcludeUserCaps, not(userCaps)},
		{events.CondObjectIDs, include(objectID)},
		{events.CondExcludeObjectIDs, exclude(objectID)},
		{events.CondAuthorIDs, include(field("author_id", "post_author"))},
		{events.CondExcludeAuthorIDs, exclude(field("author_id", "post_author"))},
		{events.CondPostIDs, include(field("post_id"))},
		{events.CondExcludePostIDs, exclude(field("post_id"))},
		{events.CondPostTypes, include(field("post_type"))},
		{events.CondExcludePostTypes, exclude(field("post_type"))},
		{events.CondTaxonomies, include(field("taxonomy"))},
		{events.CondExcludeTaxonomies, exclude(field("taxonomy"))},
		{events.CondTermIDs, include(field("term_id"))},
		{events.CondExcludeTermIDs, exclude(field("term_id"))},
		{events.CondCommentIDs, include(field("comment_id"))},
		{events.CondExcludeCommentIDs, exclude(field("comment_id"))},
		{events.CondSiteIDs, include(siteID)},
		{events.CondExcludeSiteIDs, exclude(siteID)},
	}
}

func canEnable(param any, _ Input) bool {
	b, ok := param.(bool)
	return !ok || b
}

// screen passes when the request's screen is listed (any listed screen
// matches). multisite and not-multisite veto regardless of the screen.
func screen(param any, in Input) bool {
	list := toStrings(param)
	hasScreen, matched := false, false
	for _, s := range list {
		switch strings.ReplaceAll(s, "-", "_") {
		case screenMultisite:
			if !in.Req.Multisite {
				return false
			}
		case screenNotMultisite:
			if in.Req.Multisite {
				return false
			}
		default:
			hasScreen = true
			if reqctx.Screen(s) == in.Req.Screen {
				matched = true
			}
		}
	}
	return !hasScreen || matched
}

// pageNow does not apply to background dispatch, which has no page.
func pageNow(param any, in Input) bool {
	if in.Req.Async {
		return true
	}
	return slices.Contains(toStrings(param), in.Req.PageNow)
}

func userState(param any, in Input) bool {
	switch param {
	case "logged_in":
		return in.Req.User.LoggedIn()
	case "logged_out":
		return !in.Req.User.LoggedIn()
	}
	return true
}

func loggedInUserCaps(param any, in Input) bool {
	return in.Req.User.LoggedIn() && in.Req.User.CanAny(toStrings(param))
}

func userCaps(param any, in Input) bool {
	return in.Target.CanAny(toStrings(param))
}

func ips(param any, in Input) bool {
	addr, err := netip.ParseAddr(in.Req.IP)
	for _, entry := range toStrings(param) {
		if entry == in.Req.IP {
			return true
		}
		if err != nil || !strings.Contains(entry, "/") {
			continue
		}
		if prefix, perr := netip.ParsePrefix(entry); perr == nil && prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func weekdays(param any, in Input) bool {
	day := in.Now.Weekday().String()
	for _, w := range toStrings(param) {
		if strings.EqualFold(w, day) || (len(w) == 3 && strings.EqualFold(w, day[:3])) {
			return true
		}
	}
	return false
}

// subject extracts the value a membership predicate tests. ok=false means
// the occurrence carries no such value and the predicate holds.
type subject func(in Input) (value string, ok bool)

func include(s subject) Predicate {
	return func(param any, in Input) bool {
		v, ok := s(in)
		if !ok {
			return true
		}
		return slices.Contains(toStrings(param), v)
	}
}

func exclude(s subject) Predicate {
	return func(param any, in Input) bool {
		v, ok := s(in)
		if !ok {
			return true
		}
		return !slices.Contains(toStrings(param), v)
	}
}

func not(p Predicate) Predicate {
	return func(param any, in Input) bool { return !p(param, in) }
}

func eventID(in Input) (string, bool) {
	return strconv.Itoa(in.Def.ID), true
}

func eventSlug(in Input) (string, bool) {
	return in.Def.Slug, true
}

func severity(in Input) (string, bool) {
	if in.Severity != "" {
		return string(in.Severity), true
	}
	return string(in.Def.Severity), true
}

func objectID(in Input) (string, bool) {
	return strconv.FormatInt(in.ObjectID, 10), true
}

func siteID(in Input) (string, bool) {
	if v, ok := field("blog_id", "site_id")(in); ok {
		return v, true
	}
	if in.Req.SiteID > 0 {
		return strconv.FormatInt(in.Req.SiteID, 10), true
	}
	return "", false
}

// field reads the first present occurrence field among keys.
func field(keys ...string) subject {
	return func(in Input) (string, bool) {
		for _, k := range keys {
			if v, ok := in.Fields[k]; ok && v != nil {
				return flatten.Stringify(v), true
			}
		}
		return "", false
	}
}

// toStrings normalizes a list parameter of any element type to strings.
func toStrings(param any) []string {
	switch v := param.(type) {
	case []string:
		return v
	case string:
		return []string{v}
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	case []int64:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.FormatInt(n, 10)
		}
		return out
	case []any:
		out := make([]string, len(v))
		for i, x := range v {
			out[i] = flatten.Stringify(x)
		}
		return out
	}
	return nil
}
