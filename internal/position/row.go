package position

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"bos-cli/internal/model"
)

// FromRow decodes a raw transport row into a Task, reading the ordering key from
// cfg.PositionField. It reports false when the row has no id.
func FromRow(row map[string]any, cfg Config) (model.Task, bool) {
	cfg = cfg.WithDefaults()
	id := rowString(row["id"])
	if id == "" {
		return model.Task{}, false
	}
	t := model.Task{
		ID:                  id,
		JobID:               rowString(row["job_id"]),
		ParentID:            model.ID(rowString(row["parent_id"])),
		Title:               rowString(row["title"]),
		Status:              rowString(row["status"]),
		Description:         rowString(row["description"]),
		Position:            rowNumber(row[cfg.PositionField]),
		RepositionedAfterID: model.ID(rowString(row["repositioned_after_id"])),
		CreatedAt:           model.Timestamp(model.MillisOf(row["created_at"])),
		UpdatedAt:           model.Timestamp(model.MillisOf(row["updated_at"])),
	}
	return t, true
}

// ToRow is the inverse of FromRow.
func ToRow(t model.Task, cfg Config) map[string]any {
	cfg = cfg.WithDefaults()
	row := map[string]any{
		"id":                    t.ID,
		"job_id":                t.JobID,
		"parent_id":             nullable(t.ParentID),
		"title":                 t.Title,
		"status":                t.Status,
		"description":           t.Description,
		cfg.PositionField:       t.Position,
		"repositioned_after_id": nullable(t.RepositionedAfterID),
		"created_at":            t.CreatedAt.Millis(),
		"updated_at":            t.UpdatedAt.Millis(),
	}
	return row
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func rowString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func rowNumber(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		f, _ = t.Float64()
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
