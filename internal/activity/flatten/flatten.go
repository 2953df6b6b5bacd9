// Package flatten converts field lists and nested data into the single-column
// text format stored on activity records:
//
//	name1=value1␟name2=value2␟…
//
// The separator (␟) and line-break (␤) tokens are structural. Raw newlines in
// values are stored as ␤; literal occurrences of either token, and of the
// escape character itself, are backslash-escaped so Parse(Join(f)) == f.
package flatten

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// Separator delimits entries.
	Separator = "\u241F"

	// LineBreak stands in for a newline inside a value.
	LineBreak = "\u2424"

	// BannerField is the Name Parse gives to update banners.
	BannerField = "#"
)

// Field is one name=value entry.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var (
	valueEscaper = strings.NewReplacer(
		`\`, `\\`,
		Separator, `\s`,
		LineBreak, `\l`,
		"\n", LineBreak,
	)
	nameEscaper = strings.NewReplacer(
		`\`, `\\`,
		Separator, `\s`,
		LineBreak, `\l`,
		"\n", LineBreak,
		"=", `\e`,
	)
)

// Escape makes a value safe to embed between separators.
func Escape(value string) string {
	return valueEscaper.Replace(value)
}

// Unescape reverses Escape (and the name escaping used by Join).
func Unescape(s string) string {
	if !strings.ContainsAny(s, `\`+LineBreak) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\\':
				b.WriteByte('\\')
			case 's':
				b.WriteString(Separator)
			case 'l':
				b.WriteString(LineBreak)
			case 'e':
				b.WriteByte('=')
			default:
				b.WriteByte('\\')
				b.WriteByte(s[i+1])
			}
			i += 2
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if string(r) == LineBreak {
			b.WriteByte('\n')
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// Join flattens fields into stored text.
func Join(fields []Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Name == BannerField {
			parts = append(parts, BannerField+f.Value)
			continue
		}
		parts = append(parts, nameEscaper.Replace(f.Name)+"="+Escape(f.Value))
	}
	return strings.Join(parts, Separator)
}

// Parse splits stored text back into fields. Update banners come back as
// fields named BannerField whose value is the banner timestamp.
func Parse(text string) []Field {
	if text == "" {
		return nil
	}
	var out []Field
	for _, part := range strings.Split(text, Separator) {
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			if strings.HasPrefix(part, BannerField) {
				out = append(out, Field{Name: BannerField, Value: strings.TrimPrefix(part, BannerField)})
				continue
			}
			out = append(out, Field{Name: Unescape(part)})
			continue
		}
		out = append(out, Field{Name: Unescape(name), Value: Unescape(value)})
	}
	return out
}

// Banner is the delimiter written between the prior text of a record and the
// text appended by a later occurrence.
func Banner(t time.Time) string {
	return BannerField + t.UTC().Format(time.RFC3339)
}

// MaxUpdates bounds the update history kept on one record: the text of the
// first occurrence plus the most recent MaxUpdates banner sections.
const MaxUpdates = 20

// AppendUpdate appends next to prior behind a timestamped banner. The oldest
// banner sections beyond MaxUpdates are dropped; the text before the first
// banner is always kept.
func AppendUpdate(prior string, t time.Time, next string) string {
	var parts []string
	if prior != "" {
		parts = trimHistory(strings.Split(prior, Separator), MaxUpdates-1)
	}
	parts = append(parts, Banner(t))
	if next != "" {
		parts = append(parts, next)
	}
	return strings.Join(parts, Separator)
}

// trimHistory keeps the leading parts and the last keep banner sections.
func trimHistory(parts []string, keep int) []string {
	var banners []int
	for i, p := range parts {
		if isBanner(p) {
			banners = append(banners, i)
		}
	}
	if len(banners) <= keep {
		return parts
	}
	head := parts[:banners[0]]
	if keep <= 0 {
		return append([]string(nil), head...)
	}
	tail := parts[banners[len(banners)-keep]:]
	return append(append(make([]string, 0, len(head)+len(tail)), head...), tail...)
}

func isBanner(part string) bool {
	return strings.HasPrefix(part, BannerField) && !strings.Contains(part, "=")
}

// Map flattens a nested mapping into stored text.
func Map(v any) string {
	return Join(Scalars(v))
}

// Scalars flattens nested maps and slices into dotted scalar paths. Map keys
// are visited in sorted order so the output is deterministic.
func Scalars(v any) []Field {
	var out []Field
	walk("", reflect.ValueOf(v), &out)
	return out
}

func walk(prefix string, rv reflect.Value, out *[]Field) {
	for rv.IsValid() && (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) {
		if rv.IsNil() {
			rv = reflect.Value{}
			break
		}
		if _, ok := rv.Interface().(fmt.Stringer); ok && rv.Kind() == reflect.Pointer {
			break
		}
		rv = rv.Elem()
	}

	if !rv.IsValid() {
		if prefix != "" {
			*out = append(*out, Field{Name: prefix})
		}
		return
	}

	switch rv.Kind() {
	case reflect.Map:
		keys := rv.MapKeys()
		names := make([]string, len(keys))
		byName := make(map[string]reflect.Value, len(keys))
		for i, k := range keys {
			names[i] = Stringify(k.Interface())
			byName[names[i]] = rv.MapIndex(k)
		}
		sort.Strings(names)
		for _, n := range names {
			walk(joinPath(prefix, n), byName[n], out)
		}
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			*out = append(*out, Field{Name: orValue(prefix), Value: Stringify(rv.Interface())})
			return
		}
		for i := 0; i < rv.Len(); i++ {
			walk(joinPath(prefix, strconv.Itoa(i)), rv.Index(i), out)
		}
	default:
		*out = append(*out, Field{Name: orValue(prefix), Value: Stringify(rv.Interface())})
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func orValue(name string) string {
	if name == "" {
		return "value"
	}
	return name
}

// Stringify renders a scalar for storage.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Int reads a scalar as an integer. Strings are parsed; anything else that is
// not a number yields false.
func Int(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), t == float64(int64(t))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}
