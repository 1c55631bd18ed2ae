// Package model defines shared data structures.
package model

import "time"

// Novel is one serialized work in the local catalog.
type Novel struct {
	ID         string
	Title      string
	Author     string
	Genre      string
	Synopsis   string
	Chapters   int
	ImportedAt time.Time
}

// Chapter is one installment of a novel. Number is the 1-based ordinal used
// by the lock policy; WaitHours is the wait-timer duration applied when the
// reader chooses to wait for this chapter.
type Chapter struct {
	ID        string
	NovelID   string
	Number    int
	Title     string
	Body      string
	Locked    bool
	WaitHours int
}

// Config defines reader settings.
type Config struct {
	FeedDir     string
	ReaderWidth float64
}
