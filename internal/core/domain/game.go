package domain

// GameInfo is the metadata payload the lookup service returns for one ROM.
type GameInfo struct {
	ServiceID   string       `json:"service_id"`
	Name        string       `json:"name"`
	Platform    string       `json:"platform"`
	Description string       `json:"description,omitempty"`
	Developer   string       `json:"developer,omitempty"`
	Publisher   string       `json:"publisher,omitempty"`
	Genre       string       `json:"genre,omitempty"`
	Players     string       `json:"players,omitempty"`
	Rating      float64      `json:"rating,omitempty"`
	ReleaseDate string       `json:"release_date,omitempty"`
	Media       []MediaAsset `json:"media,omitempty"`
}

// MediaAsset is one downloadable resource attached to a game.
type MediaAsset struct {
	Kind   string `json:"kind"` // cover, screenshot, marquee, video
	URL    string `json:"url"`
	Format string `json:"format"` // file extension without the dot
}
