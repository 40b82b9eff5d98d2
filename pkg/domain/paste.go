package domain

import (
	"time"
)

// Paste is the public view of a stored paste. The numeric row id is never
// exposed. Body is empty in list and create responses.
type Paste struct {
	Hash         string     `json:"hash"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	CreationDate *time.Time `json:"creation_date"`
	ClickCount   int        `json:"click_count"`
}

type PasteList struct {
	Pastes []Paste `json:"pastes"`
}

type CreateParams struct {
	Title string
	Body  string
}
