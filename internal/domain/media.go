package domain

// Series is one catalog entry as normalized from the upstream API.
type Series struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Synopsis      string   `json:"synopsis"`
	Poster        string   `json:"poster"`
	Rating        *float64 `json:"rating"`
	Status        string   `json:"status"`
	TotalEpisodes *int     `json:"totalEpisodes"`
	Genres        []string `json:"genres"`
}

type Episode struct {
	ID        string          `json:"id"`
	Episode   int             `json:"episode"`
	Title     string          `json:"title"`
	Thumbnail string          `json:"thumbnail"`
	Duration  string          `json:"duration"`
	StreamURL string          `json:"streamUrl"`
	Sources   []VideoSource   `json:"sources"`
	Subtitles []SubtitleTrack `json:"subtitles"`
}

// DefaultSource returns the source flagged default, else the first (highest quality) one.
func (e Episode) DefaultSource() (VideoSource, bool) {
	for _, source := range e.Sources {
		if source.IsDefault {
			return source, true
		}
	}
	if len(e.Sources) > 0 {
		return e.Sources[0], true
	}
	return VideoSource{}, false
}

// SourceForQuality returns the source of exactly the given quality tier.
func (e Episode) SourceForQuality(quality int) (VideoSource, bool) {
	for _, source := range e.Sources {
		if source.Quality == quality {
			return source, true
		}
	}
	return VideoSource{}, false
}

// VideoSource is a single quality tier. BackupURLs never contains URL.
type VideoSource struct {
	Quality    int      `json:"quality"`
	URL        string   `json:"url"`
	IsDefault  bool     `json:"isDefault"`
	BackupURLs []string `json:"backupUrls"`
}

// URLs returns the primary URL followed by its backups.
func (v VideoSource) URLs() []string {
	urls := make([]string, 0, 1+len(v.BackupURLs))
	if v.URL != "" {
		urls = append(urls, v.URL)
	}
	for _, backup := range v.BackupURLs {
		if backup != "" && backup != v.URL {
			urls = append(urls, backup)
		}
	}
	return urls
}

type SubtitleTrack struct {
	URL       string `json:"url"`
	Label     string `json:"label"`
	Lang      string `json:"lang"`
	Kind      string `json:"kind"`
	IsDefault bool   `json:"isDefault"`
}
