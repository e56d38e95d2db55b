package models

import "time"

// MediaFile identifies a single playable file discovered by the library
// scanner. The core never mutates the file on disk.
type MediaFile struct {
	Path      string  `json:"path"`
	Container string  `json:"container"` // extension including the dot, lowercased
	Size      int64   `json:"size"`
	Duration  float64 `json:"duration,omitempty"` // seconds; 0 until probed
}

// Episode is a single playable entry inside a season.
type Episode struct {
	ID       string    `json:"id"`
	ShowID   string    `json:"showId"`
	Season   int       `json:"season"`
	Episode  int       `json:"episode"`
	Title    string    `json:"title"`
	File     MediaFile `json:"file"`
	AddedAt  time.Time `json:"addedAt"`
}

// Season groups episodes by season number.
type Season struct {
	Number   int       `json:"number"`
	Episodes []Episode `json:"episodes"`
}

// Show is the top level of the library tree.
type Show struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Overview string   `json:"overview,omitempty"`
	Poster   string   `json:"poster,omitempty"`
	Premiere string   `json:"premiere,omitempty"`
	Seasons  []Season `json:"seasons"`
}

// PlaybackProgress tracks how far into an episode a viewer is. Duration is
// written back when probing reveals a value the scanner did not have.
type PlaybackProgress struct {
	EpisodeID string    `json:"episodeId"`
	Position  float64   `json:"position"` // seconds
	Duration  float64   `json:"duration"` // seconds
	Watched   bool      `json:"watched"`
	UpdatedAt time.Time `json:"updatedAt"`
}
