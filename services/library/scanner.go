package library

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"telecine/models"
)

// videoExtensions are the container formats the scanner treats as playable.
var videoExtensions = map[string]struct{}{
	".mp4": {}, ".m4v": {}, ".webm": {},
	".mkv": {}, ".avi": {}, ".mov": {}, ".flv": {},
	".ts": {}, ".m2ts": {}, ".mpg": {}, ".mpeg": {}, ".wmv": {},
}

// episodeMarker matches season/episode markers like S01E05, s1e5, or 1x05.
var episodeMarker = regexp.MustCompile(`(?i)(?:s(\d{1,2})e(\d{1,3})|(\d{1,2})x(\d{2,3}))`)

// Scanner walks the configured library roots and builds the show tree. Each
// immediate subdirectory of a root is one show; episode files anywhere below
// it are grouped by their season/episode markers.
type Scanner struct {
	fs      afero.Fs
	roots   []string
	workers int
}

// NewScanner builds a scanner over the given filesystem. Tests pass an
// in-memory FS; production passes afero.NewOsFs().
func NewScanner(fsys afero.Fs, roots []string, workers int) *Scanner {
	if workers <= 0 {
		workers = 4
	}
	return &Scanner{fs: fsys, roots: roots, workers: workers}
}

// Scan walks every root concurrently and returns the merged show tree sorted
// by show name. A root that does not exist is skipped with a log line rather
// than failing the whole scan.
func (s *Scanner) Scan(ctx context.Context) ([]models.Show, error) {
	runID := uuid.NewString()[:8]
	start := time.Now()

	p := pool.NewWithResults[[]models.Show]().WithContext(ctx).WithMaxGoroutines(s.workers)
	for _, root := range s.roots {
		root := root
		p.Go(func(ctx context.Context) ([]models.Show, error) {
			return s.scanRoot(ctx, root, runID)
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, fmt.Errorf("library scan: %w", err)
	}

	var shows []models.Show
	for _, batch := range results {
		shows = append(shows, batch...)
	}
	sort.Slice(shows, func(i, j int) bool { return shows[i].Name < shows[j].Name })

	log.Printf("[scanner] run %s complete: %d shows in %s", runID, len(shows), time.Since(start).Round(time.Millisecond))
	return shows, nil
}

func (s *Scanner) scanRoot(ctx context.Context, root, runID string) ([]models.Show, error) {
	exists, err := afero.DirExists(s.fs, root)
	if err != nil {
		return nil, fmt.Errorf("check root %q: %w", root, err)
	}
	if !exists {
		log.Printf("[scanner] run %s: root %q does not exist, skipping", runID, root)
		return nil, nil
	}

	entries, err := afero.ReadDir(s.fs, root)
	if err != nil {
		return nil, fmt.Errorf("read root %q: %w", root, err)
	}

	var shows []models.Show
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		show, err := s.scanShow(filepath.Join(root, entry.Name()), entry.Name())
		if err != nil {
			log.Printf("[scanner] run %s: show %q failed: %v", runID, entry.Name(), err)
			continue
		}
		if show != nil {
			shows = append(shows, *show)
		}
	}
	return shows, nil
}

// scanShow collects every episode file below the show directory. Shows with
// no playable files are omitted from the tree.
func (s *Scanner) scanShow(showPath, name string) (*models.Show, error) {
	showID := deterministicID(showPath)
	seasons := make(map[int][]models.Episode)

	err := afero.Walk(s.fs, showPath, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := videoExtensions[ext]; !ok {
			return nil
		}

		season, episode := parseEpisodeMarker(filepath.Base(path))
		seasons[season] = append(seasons[season], models.Episode{
			ID:      deterministicID(path),
			ShowID:  showID,
			Season:  season,
			Episode: episode,
			Title:   episodeTitle(filepath.Base(path)),
			File: models.MediaFile{
				Path:      path,
				Container: ext,
				Size:      info.Size(),
			},
			AddedAt: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(seasons) == 0 {
		return nil, nil
	}

	show := &models.Show{ID: showID, Name: name, Path: showPath}
	for number, episodes := range seasons {
		sort.Slice(episodes, func(i, j int) bool {
			if episodes[i].Episode != episodes[j].Episode {
				return episodes[i].Episode < episodes[j].Episode
			}
			return episodes[i].File.Path < episodes[j].File.Path
		})
		show.Seasons = append(show.Seasons, models.Season{Number: number, Episodes: episodes})
	}
	sort.Slice(show.Seasons, func(i, j int) bool { return show.Seasons[i].Number < show.Seasons[j].Number })
	return show, nil
}

// parseEpisodeMarker extracts season and episode numbers from a filename.
// Files without a recognizable marker land in season 0 (specials).
func parseEpisodeMarker(name string) (season, episode int) {
	m := episodeMarker.FindStringSubmatch(name)
	if m == nil {
		return 0, 0
	}
	if m[1] != "" {
		season, _ = strconv.Atoi(m[1])
		episode, _ = strconv.Atoi(m[2])
	} else {
		season, _ = strconv.Atoi(m[3])
		episode, _ = strconv.Atoi(m[4])
	}
	return season, episode
}

// episodeTitle cleans a filename into a display title: extension and episode
// marker stripped, separators turned into spaces.
func episodeTitle(name string) string {
	title := strings.TrimSuffix(name, filepath.Ext(name))
	if loc := episodeMarker.FindStringIndex(title); loc != nil {
		title = title[loc[1]:]
	}
	title = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(title)
	title = strings.Join(strings.Fields(title), " ")
	return title
}

// deterministicID derives a stable UUID from a path so rescans keep episode
// identity and playback progress survives.
func deterministicID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("telecine:"+path)).String()
}
