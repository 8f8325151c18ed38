package format

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"bos-cli/internal/hierarchy"
	"bos-cli/internal/model"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// StatusLabel turns a stored status ("in_progress") into a display label ("In Progress").
func StatusLabel(status string) string {
	s := strings.TrimSpace(status)
	if s == "" {
		return ""
	}
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return titleCaser.String(strings.ToLower(s))
}

// Position renders a position without a trailing ".0" for integral values.
func Position(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// Marker is the glyph shown in front of an outline row.
func Marker(hasSubtasks, expanded bool) string {
	switch {
	case !hasSubtasks:
		return "•"
	case expanded:
		return "▾"
	default:
		return "▸"
	}
}

// WriteText writes a human readable rendering. Envelopes ({"data": ...}) are unwrapped, and
// shapes without a dedicated layout fall back to YAML.
func WriteText(w io.Writer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		if data, ok := t["data"]; ok {
			if err := WriteText(w, data); err != nil {
				return err
			}
			return writeHints(w, t["_hints"])
		}
	case model.Task:
		return writeTaskDetail(w, t)
	case *model.Task:
		if t != nil {
			return writeTaskDetail(w, *t)
		}
	case []model.Task:
		for _, tk := range t {
			if _, err := fmt.Fprintln(w, taskLine(tk)); err != nil {
				return err
			}
		}
		return nil
	case []*hierarchy.Node:
		return writeRows(w, hierarchy.FlattenAll(t))
	case []hierarchy.Row:
		return writeRows(w, t)
	case []model.PositionUpdate:
		for _, u := range t {
			if _, err := fmt.Fprintln(w, updateLine(u)); err != nil {
				return err
			}
		}
		return nil
	case model.PositionUpdate:
		_, err := fmt.Fprintln(w, updateLine(t))
		return err
	case string:
		_, err := fmt.Fprintln(w, t)
		return err
	}
	return WriteYAML(w, v)
}

func taskLine(t model.Task) string {
	var b strings.Builder
	b.WriteString(Position(t.Position))
	b.WriteString("\t")
	b.WriteString(t.ID)
	if s := StatusLabel(t.Status); s != "" {
		b.WriteString("\t[" + s + "]")
	}
	b.WriteString("\t" + t.Title)
	return b.String()
}

func writeRows(w io.Writer, rows []hierarchy.Row) error {
	for _, r := range rows {
		t := r.Node.Task
		line := strings.Repeat("  ", r.Depth) + Marker(r.HasSubtasks, r.IsExpanded) + " " + t.Title
		if s := StatusLabel(t.Status); s != "" {
			line += "  [" + s + "]"
		}
		line += "  (" + t.ID + " @" + Position(t.Position) + ")"
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func updateLine(u model.PositionUpdate) string {
	line := u.ID + " -> " + Position(u.Position)
	if p := u.ParentID; p != nil && *p != "" {
		line += " under " + *p
	}
	if a := u.RepositionedAfterID; a != nil && *a != "" {
		line += " after " + *a
	}
	return line
}

func writeTaskDetail(w io.Writer, t model.Task) error {
	fields := [][2]string{
		{"id", t.ID},
		{"job", t.JobID},
		{"parent", t.Parent()},
		{"title", t.Title},
		{"status", StatusLabel(t.Status)},
		{"position", Position(t.Position)},
	}
	if t.RepositionedAfterID != nil {
		fields = append(fields, [2]string{"after", *t.RepositionedAfterID})
	}
	if !t.CreatedAt.IsZero() {
		fields = append(fields, [2]string{"created", t.CreatedAt.Time().UTC().Format("2006-01-02 15:04:05Z")})
	}
	if !t.UpdatedAt.IsZero() {
		fields = append(fields, [2]string{"updated", t.UpdatedAt.Time().UTC().Format("2006-01-02 15:04:05Z")})
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%-9s %s\n", f[0]+":", f[1]); err != nil {
			return err
		}
	}
	if d := strings.TrimSpace(t.Description); d != "" {
		if _, err := fmt.Fprintf(w, "\n%s\n", d); err != nil {
			return err
		}
	}
	return nil
}

func writeHints(w io.Writer, v any) error {
	switch h := v.(type) {
	case nil:
		return nil
	case []string:
		for _, s := range h {
			if _, err := fmt.Fprintln(w, "hint: "+s); err != nil {
				return err
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(h))
		for k := range h {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := fmt.Fprintf(w, "hint: %s: %v\n", k, h[k]); err != nil {
				return err
			}
		}
	}
	return nil
}
