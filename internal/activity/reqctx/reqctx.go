// Package reqctx carries the request-global context the activity engine
// evaluates against: who is acting, which screen they are on, and where the
// request came from. Browser/device sniffing and IP resolution happen in the
// HTTP layer; this package only holds their results.
package reqctx

import (
	"context"
	"slices"
	"strconv"
)

// Screen identifies the UI context a request was served in.
type Screen string

const (
	ScreenAdmin   Screen = "admin"
	ScreenUser    Screen = "user"
	ScreenNetwork Screen = "network"
	ScreenPublic  Screen = "public"
)

// User is the acting (or targeted) account.
type User struct {
	ID          int64    `json:"id"`
	Login       string   `json:"login,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Caps        []string `json:"caps,omitempty"`
}

// LoggedIn reports whether u is an authenticated account.
func (u *User) LoggedIn() bool {
	return u != nil && u.ID > 0
}

// Can reports whether u holds the capability. Roles count as capabilities.
func (u *User) Can(capability string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Caps, capability) || slices.Contains(u.Roles, capability)
}

// CanAny reports whether u holds at least one of the capabilities.
func (u *User) CanAny(capabilities []string) bool {
	for _, c := range capabilities {
		if u.Can(c) {
			return true
		}
	}
	return false
}

// Request is the per-request context. Constructed once by the HTTP layer and
// treated as immutable afterwards.
type Request struct {
	User      *User  `json:"user,omitempty"`
	Screen    Screen `json:"screen,omitempty"`
	PageNow   string `json:"pagenow,omitempty"`
	Async     bool   `json:"async,omitempty"`
	Multisite bool   `json:"multisite,omitempty"`
	SiteID    int64  `json:"site_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Browser   string `json:"browser,omitempty"`
	Device    string `json:"device,omitempty"`
	OS        string `json:"os,omitempty"`
	URL       string `json:"url,omitempty"`
	Referer   string `json:"referer,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// UserID returns the acting user's id, or 0 when anonymous.
func (r Request) UserID() int64 {
	if r.User == nil {
		return 0
	}
	return r.User.ID
}

// ActorKey identifies the actor across requests. Anonymous visitors are keyed
// by IP so their deferred occurrences can still be replayed.
func (r Request) ActorKey() string {
	if r.User.LoggedIn() {
		return "user:" + strconv.FormatInt(r.User.ID, 10)
	}
	return "ip:" + r.IP
}

type requestKey struct{}

// With stores r in ctx.
func With(ctx context.Context, r Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// From returns the request stored in ctx, or the zero Request.
func From(ctx context.Context) Request {
	if r, ok := ctx.Value(requestKey{}).(Request); ok {
		return r
	}
	return Request{}
}
