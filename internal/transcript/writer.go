package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Header is the fixed metadata block at the top of a text transcript and
// in the JSON document.
type Header struct {
	Title         string
	Chamber       string
	HearingID     string
	TranscribedAt time.Time
	Duration      float64 // audio seconds
	ChunkCount    int
	Model         string
}

// Document is the structured transcript artifact. FullText is present in
// the file on disk but omitted from the metadata blob persisted to the
// status store, which already carries the text in its own column.
type Document struct {
	HearingID     string    `json:"hearing_id"`
	Title         string    `json:"title"`
	Chamber       string    `json:"chamber"`
	Duration      float64   `json:"duration"`
	TranscribedAt string    `json:"transcribed_at"`
	Segments      []Segment `json:"segments"`
	Method        string    `json:"method"`
	Chunks        int       `json:"chunks"`
	Model         string    `json:"model"`
	FullText      string    `json:"full_text,omitempty"`
}

// NewDocument builds a Document from a header and merged segments.
func NewDocument(h Header, segments []Segment) Document {
	return Document{
		HearingID:     h.HearingID,
		Title:         h.Title,
		Chamber:       h.Chamber,
		Duration:      h.Duration,
		TranscribedAt: h.TranscribedAt.Format(time.RFC3339),
		Segments:      segments,
		Method:        Method,
		Chunks:        h.ChunkCount,
		Model:         h.Model,
	}
}

// RenderText renders the header block followed by the merged text. The
// same rendering is written to disk and persisted to the status store.
func RenderText(h Header, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", h.Title)
	fmt.Fprintf(&b, "# Chamber: %s\n", capitalize(h.Chamber))
	fmt.Fprintf(&b, "# Hearing ID: %s\n", h.HearingID)
	fmt.Fprintf(&b, "# Transcribed: %s\n", h.TranscribedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "# Duration: %.1f seconds\n", h.Duration)
	fmt.Fprintf(&b, "# Method: Chunked Parallel Processing\n")
	fmt.Fprintf(&b, "# Chunks: %d\n\n", h.ChunkCount)
	b.WriteString(text)
	return b.String()
}

// WriteText writes the rendered text transcript, overwriting any previous
// run's artifact for the same hearing.
func WriteText(path string, h Header, text string) error {
	if err := os.WriteFile(path, []byte(RenderText(h, text)), 0o644); err != nil {
		return fmt.Errorf("write text transcript: %w", err)
	}
	return nil
}

// WriteJSON writes the structured transcript document.
func WriteJSON(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write transcript document: %w", err)
	}
	return nil
}

// SafeTitle sanitizes a hearing title for use as a file name: path
// separators become underscores and the result is capped at 100 runes.
func SafeTitle(title string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(title)
	runes := []rune(safe)
	if len(runes) > 100 {
		safe = string(runes[:100])
	}
	return safe
}

// capitalize upper-cases the first rune only ("house" -> "House").
func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	return strings.ToUpper(string(runes[0])) + string(runes[1:])
}
