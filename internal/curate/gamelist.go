package curate

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
)

const gamelistFileName = "gamelist.xml"

// GameEntry is one game in the EmulationStation gamelist document. Paths
// are relative to the gamelist's own directory.
type GameEntry struct {
	XMLName     xml.Name `xml:"game"`
	Path        string   `xml:"path"`
	Name        string   `xml:"name"`
	Desc        string   `xml:"desc,omitempty"`
	Developer   string   `xml:"developer,omitempty"`
	Publisher   string   `xml:"publisher,omitempty"`
	Genre       string   `xml:"genre,omitempty"`
	Players     string   `xml:"players,omitempty"`
	Rating      string   `xml:"rating,omitempty"`
	ReleaseDate string   `xml:"releasedate,omitempty"`
	Image       string   `xml:"image,omitempty"`
	Marquee     string   `xml:"marquee,omitempty"`
	Video       string   `xml:"video,omitempty"`
}

type gameListDoc struct {
	XMLName xml.Name    `xml:"gameList"`
	Games   []GameEntry `xml:"game"`
}

// GamelistWriter maintains one gamelist.xml per output directory.
type GamelistWriter struct {
	log *slog.Logger
}

// NewGamelistWriter creates a writer.
func NewGamelistWriter(log *slog.Logger) *GamelistWriter {
	if log == nil {
		log = slog.Default()
	}
	return &GamelistWriter{log: log}
}

// Load reads the existing gamelist in dir. A missing file is an empty list;
// a corrupt one is an error, since silently replacing it would discard a
// catalog the user may have edited by hand.
func (w *GamelistWriter) Load(dir string) ([]GameEntry, error) {
	data, err := os.ReadFile(filepath.Join(dir, gamelistFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read gamelist: %w", err)
	}

	var doc gameListDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse gamelist in %s: %w", dir, err)
	}
	return doc.Games, nil
}

// Merge upserts entries into dir's gamelist keyed by ROM path and writes
// the document back atomically. It returns the total entry count after the
// merge. Existing entries for other games are preserved untouched.
func (w *GamelistWriter) Merge(dir string, entries []GameEntry) (int, error) {
	if len(entries) == 0 {
		existing, err := w.Load(dir)
		return len(existing), err
	}

	existing, err := w.Load(dir)
	if err != nil {
		return 0, err
	}

	index := make(map[string]int, len(existing))
	for i, g := range existing {
		index[g.Path] = i
	}
	for _, e := range entries {
		if i, ok := index[e.Path]; ok {
			existing[i] = e
			continue
		}
		index[e.Path] = len(existing)
		existing = append(existing, e)
	}

	if err := w.write(dir, existing); err != nil {
		return 0, err
	}
	w.log.Info("gamelist updated", "dir", dir, "merged", len(entries), "total", len(existing))
	return len(existing), nil
}

// write replaces the gamelist via temp file and rename, the same discipline
// as the cache store, so readers never observe a partial document.
func (w *GamelistWriter) write(dir string, games []GameEntry) error {
	data, err := xml.MarshalIndent(gameListDoc{Games: games}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode gamelist: %w", err)
	}
	data = append([]byte(xml.Header), data...)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, gamelistFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp gamelist: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp gamelist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp gamelist: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, gamelistFileName)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace gamelist: %w", err)
	}
	return nil
}

// EntryFor builds the gamelist entry for one scraped game. mediaPaths maps
// media kind to the asset's path relative to the output directory.
func EntryFor(item domain.RomItem, game *domain.GameInfo, mediaPaths map[string]string) GameEntry {
	e := GameEntry{
		Path:        RomPath(item),
		Name:        game.Name,
		Desc:        game.Description,
		Developer:   game.Developer,
		Publisher:   game.Publisher,
		Genre:       game.Genre,
		Players:     game.Players,
		ReleaseDate: game.ReleaseDate,
	}
	if game.Rating > 0 {
		e.Rating = strconv.FormatFloat(game.Rating, 'f', 2, 64)
	}

	// The image slot prefers the cover, falling back to a screenshot.
	if p, ok := mediaPaths["cover"]; ok {
		e.Image = p
	} else if p, ok := mediaPaths["screenshot"]; ok {
		e.Image = p
	}
	e.Marquee = mediaPaths["marquee"]
	e.Video = mediaPaths["video"]
	return e
}

// RomPath renders the ROM's path relative to its output directory in the
// "./name.ext" form gamelist consumers expect, falling back to the absolute
// path when the ROM lives outside the output tree. It is the key entries are
// merged by.
func RomPath(item domain.RomItem) string {
	rel, err := filepath.Rel(item.OutputDir, item.Path)
	if err != nil || filepath.IsAbs(rel) || len(rel) >= 2 && rel[:2] == ".." {
		return item.Path
	}
	return "./" + filepath.ToSlash(rel)
}
