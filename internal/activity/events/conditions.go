package events

// Condition names. Each names a predicate in the conditions evaluator and a
// parameter on Conditions.
const (
	CondCanEnable         = "can_enable"
	CondScreen            = "screen"
	CondPageNow           = "pagenow"
	CondUserState         = "user_state"
	CondLoggedInUserCaps  = "logged_in_user_caps"
	CondEventIDs          = "event_ids"
	CondExcludeEventIDs   = "exclude_event_ids"
	CondEventSlugs        = "event_slugs"
	CondExcludeEventSlugs = "exclude_event_slugs"
	CondIPs               = "ips"
	CondExcludeIPs        = "exclude_ips"
	CondSeverities        = "severities"
	CondExcludeSeverities = "exclude_severities"
	CondWeekdays          = "weekdays"
	CondExcludeWeekdays   = "exclude_weekdays"

	CondUserCaps          = "user_caps"
	CondExcludeUserCaps   = "exclude_user_caps"
	CondObjectIDs         = "object_ids"
	CondExcludeObjectIDs  = "exclude_object_ids"
	CondAuthorIDs         = "author_ids"
	CondExcludeAuthorIDs  = "exclude_author_ids"
	CondPostIDs           = "post_ids"
	CondExcludePostIDs    = "exclude_post_ids"
	CondPostTypes         = "post_types"
	CondExcludePostTypes  = "exclude_post_types"
	CondTaxonomies        = "taxonomies"
	CondExcludeTaxonomies = "exclude_taxonomies"
	CondTermIDs           = "term_ids"
	CondExcludeTermIDs    = "exclude_term_ids"
	CondCommentIDs        = "comment_ids"
	CondExcludeCommentIDs = "exclude_comment_ids"
	CondSiteIDs           = "site_ids"
	CondExcludeSiteIDs    = "exclude_site_ids"
)

// Conditions are the predicate parameters attached to a definition. An unset
// parameter means the predicate does not apply.
type Conditions struct {
	CanEnable        *bool    `yaml:"can_enable"`
	Screen           []string `yaml:"screen"`
	PageNow          []string `yaml:"pagenow"`
	UserState        string   `yaml:"user_state"`
	LoggedInUserCaps []string `yaml:"logged_in_user_caps"`

	EventIDs          []int    `yaml:"event_ids"`
	ExcludeEventIDs   []int    `yaml:"exclude_event_ids"`
	EventSlugs        []string `yaml:"event_slugs"`
	ExcludeEventSlugs []string `yaml:"exclude_event_slugs"`
	IPs               []string `yaml:"ips"`
	ExcludeIPs        []string `yaml:"exclude_ips"`
	Severities        []string `yaml:"severities"`
	ExcludeSeverities []string `yaml:"exclude_severities"`
	Weekdays          []string `yaml:"weekdays"`
	ExcludeWeekdays   []string `yaml:"exclude_weekdays"`

	UserCaps          []string `yaml:"user_caps"`
	ExcludeUserCaps   []string `yaml:"exclude_user_caps"`
	ObjectIDs         []int64  `yaml:"object_ids"`
	ExcludeObjectIDs  []int64  `yaml:"exclude_object_ids"`
	AuthorIDs         []int64  `yaml:"author_ids"`
	ExcludeAuthorIDs  []int64  `yaml:"exclude_author_ids"`
	PostIDs           []int64  `yaml:"post_ids"`
	ExcludePostIDs    []int64  `yaml:"exclude_post_ids"`
	PostTypes         []string `yaml:"post_types"`
	ExcludePostTypes  []string `yaml:"exclude_post_types"`
	Taxonomies        []string `yaml:"taxonomies"`
	ExcludeTaxonomies []string `yaml:"exclude_taxonomies"`
	TermIDs           []int64  `yaml:"term_ids"`
	ExcludeTermIDs    []int64  `yaml:"exclude_term_ids"`
	CommentIDs        []int64  `yaml:"comment_ids"`
	ExcludeCommentIDs []int64  `yaml:"exclude_comment_ids"`
	SiteIDs           []int64  `yaml:"site_ids"`
	ExcludeSiteIDs    []int64  `yaml:"exclude_site_ids"`

	// Extra holds parameters for externally registered predicates.
	Extra map[string]any `yaml:",inline"`
}

// Get returns the parameter for the named predicate and whether it is set.
func (c Conditions) Get(name string) (any, bool) {
	switch name {
	case CondCanEnable:
		if c.CanEnable == nil {
			return nil, false
		}
		return *c.CanEnable, true
	case CondUserState:
		return c.UserState, c.UserState != ""
	case CondScreen:
		return set(c.Screen)
	case CondPageNow:
		return set(c.PageNow)
	case CondLoggedInUserCaps:
		return set(c.LoggedInUserCaps)
	case CondEventIDs:
		return set(c.EventIDs)
	case CondExcludeEventIDs:
		return set(c.ExcludeEventIDs)
	case CondEventSlugs:
		return set(c.EventSlugs)
	case CondExcludeEventSlugs:
		return set(c.ExcludeEventSlugs)
	case CondIPs:
		return set(c.IPs)
	case CondExcludeIPs:
		return set(c.ExcludeIPs)
	case CondSeverities:
		return set(c.Severities)
	case CondExcludeSeverities:
		return set(c.ExcludeSeverities)
	case CondWeekdays:
		return set(c.Weekdays)
	case CondExcludeWeekdays:
		return set(c.ExcludeWeekdays)
	case CondUserCaps:
		return set(c.UserCaps)
	case CondExcludeUserCaps:
		return set(c.ExcludeUserCaps)
	case CondObjectIDs:
		return set(c.ObjectIDs)
	case CondExcludeObjectIDs:
		return set(c.ExcludeObjectIDs)
	case CondAuthorIDs:
		return set(c.AuthorIDs)
	case CondExcludeAuthorIDs:
		return set(c.ExcludeAuthorIDs)
	case CondPostIDs:
		return set(c.PostIDs)
	case CondExcludePostIDs:
		return set(c.ExcludePostIDs)
	case CondPostTypes:
		return set(c.PostTypes)
	case CondExcludePostTypes:
		return set(c.ExcludePostTypes)
	case CondTaxonomies:
		return set(c.Taxonomies)
	case CondExcludeTaxonomies:
		return set(c.ExcludeTaxonomies)
	case CondTermIDs:
		return set(c.TermIDs)
	case CondExcludeTermIDs:
		return set(c.ExcludeTermIDs)
	case CondCommentIDs:
		return set(c.CommentIDs)
	case CondExcludeCommentIDs:
		return set(c.ExcludeCommentIDs)
	case CondSiteIDs:
		return set(c.SiteIDs)
	case CondExcludeSiteIDs:
		return set(c.ExcludeSiteIDs)
	}
	v, ok := c.Extra[name]
	return v, ok && v != nil
}

func set[T any](s []T) (any, bool) {
	if len(s) == 0 {
		return nil, false
	}
	return s, true
}
