package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/IshaanNene/FeedStalk/internal/types"
)

// csvHeader is the fixed column order for CSV export.
var csvHeader = []string{"id", "author", "content", "display_time", "instant"}

// ExportPosts writes posts to w in the given format: "json" (indented
// array), "jsonl" (one object per line), or "csv" (header plus one row per
// post). Posts are written in the order given, which for a retained window
// is newest first.
func ExportPosts(w io.Writer, posts []types.Post, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(posts); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
		return nil

	case "jsonl":
		enc := json.NewEncoder(w)
		for _, p := range posts {
			if err := enc.Encode(p); err != nil {
				return fmt.Errorf("encode JSONL: %w", err)
			}
		}
		return nil

	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return fmt.Errorf("write CSV header: %w", err)
		}
		for _, p := range posts {
			row := []string{
				p.ID,
				p.Author,
				p.Content,
				p.DisplayTime,
				p.Instant.UTC().Format(time.RFC3339Nano),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write CSV row: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()

	default:
		return fmt.Errorf("unknown export format %q (valid: json, jsonl, csv)", format)
	}
}
