// Package catalog imports novel feeds into the local store and reads them
// back for presentation.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/inkleaf/inkleaf/internal/access"
	"github.com/inkleaf/inkleaf/internal/model"
)

const defaultWaitHours = 3

// Feed is the JSON import format: one novel and its chapters.
type Feed struct {
	Novel    FeedNovel     `json:"novel"`
	Chapters []FeedChapter `json:"chapters"`
}

// FeedNovel is the novel metadata block of a feed.
type FeedNovel struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Genre    string `json:"genre"`
	Synopsis string `json:"synopsis"`
}

// FeedChapter is one chapter entry of a feed. Locked and WaitHours are
// optional: lock defaults to the position-based policy and wait hours to a
// fixed fallback.
type FeedChapter struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Locked    *bool  `json:"locked"`
	WaitHours *int   `json:"wait_hours"`
}

// ParseFeed decodes and validates a feed, filling defaults. Chapters missing
// an ID get a generated one; the result is ordered by chapter number.
func ParseFeed(r io.Reader) (model.Novel, []model.Chapter, error) {
	var feed Feed
	dec := json.NewDecoder(r)
	if err := dec.Decode(&feed); err != nil {
		return model.Novel{}, nil, fmt.Errorf("failed to decode feed: %w", err)
	}

	if feed.Novel.Title == "" {
		return model.Novel{}, nil, fmt.Errorf("feed novel has no title")
	}
	if len(feed.Chapters) == 0 {
		return model.Novel{}, nil, fmt.Errorf("feed has no chapters")
	}

	novel := model.Novel{
		ID:       feed.Novel.ID,
		Title:    feed.Novel.Title,
		Author:   feed.Novel.Author,
		Genre:    feed.Novel.Genre,
		Synopsis: feed.Novel.Synopsis,
	}
	if novel.ID == "" {
		novel.ID = uuid.NewString()
	}

	seen := map[int]struct{}{}
	chapters := make([]model.Chapter, 0, len(feed.Chapters))
	for _, fc := range feed.Chapters {
		if fc.Number <= 0 {
			return model.Novel{}, nil, fmt.Errorf("chapter %q has invalid number %d", fc.Title, fc.Number)
		}
		if _, dup := seen[fc.Number]; dup {
			return model.Novel{}, nil, fmt.Errorf("duplicate chapter number %d", fc.Number)
		}
		seen[fc.Number] = struct{}{}

		ch := model.Chapter{
			ID:      fc.ID,
			NovelID: novel.ID,
			Number:  fc.Number,
			Title:   fc.Title,
			Body:    fc.Body,
		}
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		if fc.Locked != nil {
			ch.Locked = *fc.Locked
		} else {
			ch.Locked = fc.Number > access.FreeChapters
		}
		if fc.WaitHours != nil {
			ch.WaitHours = *fc.WaitHours
		} else if ch.Locked {
			ch.WaitHours = defaultWaitHours
		}
		chapters = append(chapters, ch)
	}

	sort.Slice(chapters, func(i, j int) bool {
		return chapters[i].Number < chapters[j].Number
	})
	return novel, chapters, nil
}

// Importer writes parsed feeds into a store.
type Importer interface {
	ImportNovel(ctx context.Context, novel model.Novel, chapters []model.Chapter) error
}

// ImportFile parses a feed file and imports it.
func ImportFile(ctx context.Context, imp Importer, path string) (model.Novel, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Novel{}, fmt.Errorf("failed to open feed: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			// Best-effort close.
			_ = cerr
		}
	}()

	novel, chapters, err := ParseFeed(f)
	if err != nil {
		return model.Novel{}, fmt.Errorf("failed to parse feed %s: %w", path, err)
	}
	novel.ImportedAt = time.Now()
	if err := imp.ImportNovel(ctx, novel, chapters); err != nil {
		return model.Novel{}, fmt.Errorf("failed to import feed %s: %w", path, err)
	}
	return novel, nil
}
