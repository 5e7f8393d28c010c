// Package archive extracts raw listening records from an uploaded
// history export archive.
//
// Export archives have changed naming conventions over the years, so the
// extractor matches several known file-name variants and falls back to
// any JSON entry when none match. Individual unreadable files are logged
// and skipped; extraction fails only when no file yields any records.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/skalter/playtrace/internal/normalize"
)

// Sentinel errors.
var (
	// ErrUnreadableArchive is returned when the upload is not a valid
	// zip archive.
	ErrUnreadableArchive = errors.New("archive is not readable")

	// ErrNoHistoryFiles is returned when no candidate file produced any
	// records.
	ErrNoHistoryFiles = errors.New("no listening history records found in archive")
)

// DefaultConcurrency bounds how many archive entries are parsed at once.
const DefaultConcurrency = 4

// Extractor extracts raw export records from zip archives.
type Extractor struct {
	concurrency int
	log         zerolog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithConcurrency sets the parse fan-out bound.
func WithConcurrency(n int) Option {
	return func(x *Extractor) {
		if n > 0 {
			x.concurrency = n
		}
	}
}

// WithLogger sets the extractor's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(x *Extractor) {
		x.log = log
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	x := &Extractor{
		concurrency: DefaultConcurrency,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract opens a zip archive and parses every candidate history file
// into raw export records. Entries are parsed concurrently and results
// concatenated; ordering across files is not preserved.
//
// Returns ErrUnreadableArchive when data is not a zip, and
// ErrNoHistoryFiles when every candidate file together yields zero
// records.
func (x *Extractor) Extract(ctx context.Context, data []byte) ([]normalize.ExportRecord, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableArchive, err)
	}

	candidates := candidateEntries(reader.File)
	if len(candidates) == 0 {
		return nil, ErrNoHistoryFiles
	}

	var (
		mu      sync.Mutex
		records []normalize.ExportRecord
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)

	for _, entry := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			parsed, err := parseEntry(entry)
			if err != nil {
				// One bad file never aborts the extraction.
				x.log.Warn().Str("entry", entry.Name).Err(err).
					Msg("skipping unparsable archive entry")
				return nil
			}

			mu.Lock()
			records = append(records, parsed...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, ErrNoHistoryFiles
	}

	return records, nil
}

// candidateEntries selects archive entries that look like audio listening
// history. When no entry matches a known naming variant, every non-video
// JSON entry is accepted as a fallback for renamed exports.
func candidateEntries(files []*zip.File) []*zip.File {
	var matched, fallback []*zip.File

	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}

		name := strings.ToLower(f.Name)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		// Video history ships in the same archive under a near-identical
		// name and must never be ingested.
		if strings.Contains(name, "video") {
			continue
		}

		fallback = append(fallback, f)
		if matchesHistoryPattern(name) {
			matched = append(matched, f)
		}
	}

	if len(matched) > 0 {
		return matched
	}
	return fallback
}

// matchesHistoryPattern reports whether a lower-cased entry name matches
// one of the known export naming variants.
func matchesHistoryPattern(name string) bool {
	// Extended exports: Streaming_History_Audio_2023_4.json
	if strings.Contains(name, "streaming_history_audio") {
		return true
	}
	// Older exports: StreamingHistory_music_0.json, StreamingHistory0.json
	if strings.Contains(name, "streaminghistory") {
		return true
	}
	// Generic variant: any name carrying both tokens.
	return strings.Contains(name, "streaming") && strings.Contains(name, "history")
}

// parseEntry reads one archive entry and decodes it as either a list of
// export records or a single record object. Any other top-level shape is
// an error, which the caller logs and skips.
func parseEntry(f *zip.File) ([]normalize.ExportRecord, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening entry: %w", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("reading entry: %w", err)
	}

	var records []normalize.ExportRecord
	if err := json.Unmarshal(buf.Bytes(), &records); err == nil {
		return records, nil
	}

	var single normalize.ExportRecord
	if err := json.Unmarshal(buf.Bytes(), &single); err == nil {
		return []normalize.ExportRecord{single}, nil
	}

	return nil, fmt.Errorf("entry is neither a record list nor a record object")
}
