package domain

// RomItem is a scanned file eligible for scraping.
type RomItem struct {
	Path      string
	Name      string // base name without extension
	Platform  string
	OutputDir string
	Size      int64
	Hash      string // hex SHA-1 of file contents, the cache key
}
