package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Sternrassler/yt-comments/pkg/youtube"
)

// Header is the first CSV row.
var Header = []string{
	"Video Title", "Views", "Likes", "Comments",
	"Author", "Comment", "Comment Likes", "Replies",
}

// Row is one comment joined with the details of its video.
type Row struct {
	VideoTitle   string
	Views        string
	Likes        string
	Comments     string
	Author       string
	Comment      string
	CommentLikes int64
	Replies      int64
}

// Record returns the row as CSV fields in Header order.
func (r Row) Record() []string {
	return []string{
		r.VideoTitle,
		r.Views,
		r.Likes,
		r.Comments,
		r.Author,
		r.Comment,
		strconv.FormatInt(r.CommentLikes, 10),
		strconv.FormatInt(r.Replies, 10),
	}
}

// Flatten produces one row per comment. A nil video yields no rows.
func Flatten(video *youtube.VideoDetails, comments []youtube.Comment) []Row {
	if video == nil || len(comments) == 0 {
		return nil
	}

	rows := make([]Row, 0, len(comments))
	for _, c := range comments {
		rows = append(rows, Row{
			VideoTitle:   video.Title,
			Views:        video.Views,
			Likes:        video.Likes,
			Comments:     video.Comments,
			Author:       c.Author,
			Comment:      c.Text,
			CommentLikes: c.Likes,
			Replies:      c.Replies,
		})
	}
	return rows
}

// WriteCSV writes the header followed by rows.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		if err := cw.Write(row.Record()); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteFile writes rows to path via a temporary file in the same directory
// that is renamed into place, so readers never see a partial file.
func WriteFile(path string, rows []Row) (err error) {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = WriteCSV(tmp, rows); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
