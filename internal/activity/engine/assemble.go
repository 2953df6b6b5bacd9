package engine

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/events"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/flatten"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/reqctx"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/store"
	"github.com/keyxmakerx/chronicle-activity/internal/hooks"
)

// assembly is a record ready to be written, plus what the write needs.
type assembly struct {
	record store.LogRecord
	match  *store.LogRecord
	user   *reqctx.User
	now    time.Time
	empty  bool
}

// assemble builds the record for ev. The update-or-insert decision comes
// first: an update keeps the original record's identity and context columns
// and only rewrites the message, the three data columns, the counter and
// updated_at.
func (s *Session) assemble(ev *ActiveEvent) (*assembly, error) {
	def := ev.Definition()
	a := &assembly{now: s.engine.now(), user: s.actingUser(ev)}
	objectID := ev.objectID()

	match, err := s.shouldUpdate(def, a.user.ID, objectID)
	if err != nil {
		return a, err
	}
	a.match = match

	fields := s.expand(ev, def, a.user)
	fields = hooks.Filter(s.hooks, HookMessageFields, fields, ev)
	for i := range fields {
		fields[i].Value = hooks.Filter(s.hooks, HookFieldInfo, fields[i].Value, fields[i].Name, ev)
	}

	counter := 1
	if match != nil {
		counter = match.LogCounter + 1
	}
	message := strings.ReplaceAll(flatten.Join(fields), CountMarker, strconv.Itoa(counter))
	message = hooks.Filter(s.hooks, HookMessageBeforeSave, message, ev)

	a.empty = message == "" || (ev.tracked && len(ev.changed) == 0)

	userData := flatten.Map(userData(a.user))
	objectData := flatten.Map(ev.objectData)
	metadata := flatten.Map(requestMetadata(s.req))

	if match != nil {
		rec := *match
		rec.Message = message
		rec.UserData = flatten.AppendUpdate(match.UserData, a.now, userData)
		rec.ObjectData = flatten.AppendUpdate(match.ObjectData, a.now, objectData)
		rec.Metadata = flatten.AppendUpdate(match.Metadata, a.now, metadata)
		rec.LogCounter = counter
		rec.UpdatedAt = a.now
		a.record = rec
		return a, nil
	}

	a.record = store.LogRecord{
		EventID:     def.ID,
		EventSlug:   def.Slug,
		EventGroup:  def.Group,
		EventObject: def.Object,
		EventAction: def.Action,
		EventTitle:  def.Title,
		Severity:    string(def.Severity),
		UserID:      a.user.ID,
		ObjectID:    objectID,
		SourceIP:    s.req.IP,
		Message:     message,
		UserData:    userData,
		ObjectData:  objectData,
		Metadata:    metadata,
		LogCounter:  counter,
		CreatedAt:   a.now,
		UpdatedAt:   a.now,
	}
	return a, nil
}

// persist writes a.record, updating the matched record when there is one.
func (s *Session) persist(a *assembly) (Outcome, error) {
	if a.match != nil {
		err := s.engine.repo.Update(s.ctx, a.match.ID, store.RecordUpdate{
			Message:    a.record.Message,
			UserData:   a.record.UserData,
			ObjectData: a.record.ObjectData,
			Metadata:   a.record.Metadata,
			UpdatedAt:  a.record.UpdatedAt,
		})
		return OutcomeUpdated, err
	}
	err := s.engine.repo.Insert(s.ctx, &a.record)
	return OutcomeInserted, err
}

// actingUser prefers an explicit current_user_id field, then a user set by
// the handler, then the session user. The result is never nil.
func (s *Session) actingUser(ev *ActiveEvent) *reqctx.User {
	if v, ok := ev.fields[FieldCurrentUserID]; ok {
		if id, ok := flatten.Int(v); ok {
			switch {
			case s.req.User != nil && s.req.User.ID == id:
				return s.req.User
			case ev.user != nil && ev.user.ID == id:
				return ev.user
			}
			return &reqctx.User{ID: id}
		}
	}
	if ev.user != nil {
		return ev.user
	}
	if s.req.User != nil {
		return s.req.User
	}
	return &reqctx.User{}
}

func (ev *ActiveEvent) objectID() int64 {
	if id, ok := flatten.Int(ev.fields[FieldObjectID]); ok {
		return id
	}
	return 0
}

// expand renders the message template. Nested values become dotted fields;
// values equal to Ignore are left out.
func (s *Session) expand(ev *ActiveEvent, def events.Definition, user *reqctx.User) []flatten.Field {
	out := make([]flatten.Field, 0, len(def.Message))
	for _, entry := range def.Message {
		if entry.Field == events.FieldEventID {
			continue
		}

		v, _ := s.resolve(ev, entry.Source)
		if str, ok := v.(string); ok && str == Ignore {
			continue
		}

		if entry.Field == events.FieldMain {
			main := hooks.Filter(s.hooks, HookMainMessage, flatten.Stringify(v), ev)
			out = append(out, flatten.Field{Name: entry.Field, Value: withRole(main, user)})
			continue
		}

		if isNested(v) {
			for _, sc := range flatten.Scalars(v) {
				out = append(out, flatten.Field{Name: entry.Field + "." + sc.Name, Value: sc.Value})
			}
			continue
		}
		out = append(out, flatten.Field{Name: entry.Field, Value: flatten.Stringify(v)})
	}
	return out
}

func (s *Session) resolve(ev *ActiveEvent, src events.ValueSource) (any, bool) {
	switch src.Kind {
	case events.SourceLookup:
		return lookup(ev.fields, src.Path)
	case events.SourceBefore:
		if len(src.Path) != 2 || !s.snaps.Has(src.Path[0]) {
			return nil, false
		}
		return s.snaps.Field(src.Path[0], src.Path[1]), true
	}
	return src.Literal, true
}

// withRole prefixes the main message with the acting user's roles. A leading
// indefinite article is lower-cased so the result reads as one sentence.
func withRole(main string, u *reqctx.User) string {
	if !u.LoggedIn() || len(u.Roles) == 0 || main == "" {
		return main
	}
	title := cases.Title(language.English)
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, title.String(strings.ReplaceAll(r, "_", " ")))
	}
	switch {
	case strings.HasPrefix(main, "A "):
		main = "a " + main[2:]
	case strings.HasPrefix(main, "An "):
		main = "an " + main[3:]
	}
	return strings.Join(names, ", ") + ": " + main
}

// lookup walks path through nested maps and slices.
func lookup(root map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	cur, ok := root[path[0]]
	if !ok {
		return nil, false
	}
	for _, p := range path[1:] {
		rv := reflect.ValueOf(cur)
		for rv.IsValid() && (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) {
			rv = rv.Elem()
		}
		switch {
		case !rv.IsValid():
			return nil, false
		case rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String:
			v := rv.MapIndex(reflect.ValueOf(p).Convert(rv.Type().Key()))
			if !v.IsValid() {
				return nil, false
			}
			cur = v.Interface()
		case rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= rv.Len() {
				return nil, false
			}
			cur = rv.Index(i).Interface()
		default:
			return nil, false
		}
	}
	return cur, true
}

func isNested(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		_, isBytes := v.([]byte)
		return !isBytes
	}
	return false
}

func userData(u *reqctx.User) map[string]any {
	if !u.LoggedIn() {
		return nil
	}
	m := map[string]any{"id": u.ID}
	if u.Login != "" {
		m["login"] = u.Login
	}
	if u.DisplayName != "" {
		m["display_name"] = u.DisplayName
	}
	if u.Email != "" {
		m["email"] = u.Email
	}
	if len(u.Roles) > 0 {
		m["roles"] = strings.Join(u.Roles, ",")
	}
	return m
}

func requestMetadata(r reqctx.Request) map[string]any {
	m := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("ip", r.IP)
	set("user_agent", r.UserAgent)
	set("browser", r.Browser)
	set("device", r.Device)
	set("os", r.OS)
	set("url", r.URL)
	set("referer", r.Referer)
	set("screen", string(r.Screen))
	set("pagenow", r.PageNow)
	set("request_id", r.RequestID)
	if r.SiteID > 0 {
		m["site_id"] = r.SiteID
	}
	if r.Async {
		m["async"] = true
	}
	return m
}
