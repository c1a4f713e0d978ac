package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	cue "cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrorDetail is one humanized configuration error.
type CueErrorDetail struct {
	Path    string // watsonx.url
	Code    string // unknown_field | missing_required | conflicting_values | type_mismatch | validation_error
	Message string
	Pos     CueErrorPosition
	Raw     string // cue message
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

// rules are tried in order, the first match wins
var rules = []struct {
	re     *regexp.Regexp
	code   string
	format string
}{
	{regexp.MustCompile(`(?i)not allowed|unknown field`), "unknown_field", "Field %s is not allowed"},
	{regexp.MustCompile(`(?i)incomplete value`), "missing_required", "Field %s is required"},
	{regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible|out of bound`), "conflicting_values", "Conflicting values for %s"},
	{regexp.MustCompile(`(?i)expected .* got .*`), "type_mismatch", "Field %s has wrong type/value"},
}

// CueErrDetails turns a LoadConfig error into a list of human readable
// details, one per offending position. Fields with a non-empty default
// mention it.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	seen := make(map[CueErrorPosition]struct{})
	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		pos := position(e)
		if pos.Filename == "" {
			continue
		}
		if _, ok := seen[pos]; ok {
			continue
		}
		seen[pos] = struct{}{}

		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		sel := e.Path()
		if len(sel) > 0 && strings.HasPrefix(sel[0], "#") {
			sel = sel[1:]
		}
		path := strings.Join(sel, ".")

		d := CueErrorDetail{Path: path, Code: "validation_error", Message: raw, Pos: pos, Raw: raw}
		for _, r := range rules {
			if r.re.MatchString(raw) {
				d.Code = r.code
				d.Message = fmt.Sprintf(r.format, field(path))
				break
			}
		}
		if dflt := defaultOf(path); dflt != "" {
			d.Message += " (default " + strconv.Quote(dflt) + ")"
		}
		out = append(out, d)
	}
	return out
}

// defaultOf returns the non-empty string default of a schema field.
func defaultOf(path string) string {
	if path == "" {
		return ""
	}
	v := schema.LookupPath(cue.ParsePath(path))
	if !v.Exists() {
		return ""
	}
	d, ok := v.Default()
	if !ok {
		return ""
	}
	s, err := d.String()
	if err != nil {
		return ""
	}
	return s
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, p := range cueerrors.Positions(err) {
		if p.Filename() != "" {
			return CueErrorPosition{Filename: p.Filename(), Line: p.Line(), Column: p.Column()}
		}
	}
	return CueErrorPosition{}
}

func field(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}
