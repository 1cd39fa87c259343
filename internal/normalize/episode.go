package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"

	"dramastream/internal/domain"
)

var (
	episodeIDKeys        = []string{"chapterId", "id", "episode_id"}
	episodeTitleKeys     = []string{"chapterName", "title", "name"}
	episodeThumbnailKeys = []string{"chapterImg", "thumbnail", "image", "poster"}
	episodeDurationKeys  = []string{"duration", "runtime"}
	episodeNumberKeys    = []string{"episode", "ep", "chapter", "number", "episode_no"}
	videoPathKeys        = []string{"videoPath", "url", "videoUrl"}

	digitsPattern = regexp.MustCompile(`\d+`)
)

// Episode normalizes one raw episode record. index is its position in the source list.
func Episode(raw any, index int) domain.Episode {
	obj := asObject(raw)
	number := episodeNumber(obj, index)

	id := strings.TrimSpace(firstString(obj, episodeIDKeys...))
	if id == "" {
		id = fmt.Sprintf("%d-%d", number, index)
	}
	title := strings.TrimSpace(firstString(obj, episodeTitleKeys...))
	if title == "" {
		title = fmt.Sprintf("Episode %d", number)
	}

	cdns := cdnList(obj)
	return domain.Episode{
		ID:        id,
		Episode:   number,
		Title:     title,
		Thumbnail: firstString(obj, episodeThumbnailKeys...),
		Duration:  firstString(obj, episodeDurationKeys...),
		StreamURL: defaultStreamURL(cdns),
		Sources:   collectSources(cdns),
		Subtitles: Subtitles(raw),
	}
}

// EpisodeList normalizes a list and orders it by ascending episode number.
// Episodes sharing a number keep their source order.
func EpisodeList(items []any) []domain.Episode {
	episodes := lo.Map(items, func(item any, index int) domain.Episode {
		return Episode(item, index)
	})
	sort.SliceStable(episodes, func(i, j int) bool {
		return episodes[i].Episode < episodes[j].Episode
	})
	return episodes
}

func episodeNumber(obj map[string]any, index int) int {
	if value, ok := obj["chapterIndex"]; ok {
		if f, ok := toFloat(value); ok && f >= 0 {
			if n, ok := toPositiveInt(f + 1); ok {
				return n
			}
		}
	}
	if name, ok := obj["chapterName"].(string); ok {
		if digits := digitsPattern.FindString(name); digits != "" {
			if n, ok := toPositiveInt(digits); ok {
				return n
			}
		}
	}
	for _, key := range episodeNumberKeys {
		if n, ok := toPositiveInt(obj[key]); ok {
			return n
		}
	}
	return index + 1
}

type cdnEntry struct {
	isDefault bool
	videos    []map[string]any
}

func cdnList(obj map[string]any) []cdnEntry {
	raw, _ := obj["cdnList"].([]any)
	cdns := make([]cdnEntry, 0, len(raw))
	for _, item := range raw {
		cdn := asObject(item)
		if cdn == nil {
			continue
		}
		videosRaw, _ := cdn["videoPathList"].([]any)
		videos := make([]map[string]any, 0, len(videosRaw))
		for _, video := range videosRaw {
			if v := asObject(video); v != nil {
				videos = append(videos, v)
			}
		}
		cdns = append(cdns, cdnEntry{isDefault: toBool(cdn["isDefault"]), videos: videos})
	}
	return cdns
}

func defaultStreamURL(cdns []cdnEntry) string {
	if len(cdns) == 0 {
		return ""
	}
	cdn, found := lo.Find(cdns, func(c cdnEntry) bool { return c.isDefault })
	if !found {
		cdn = cdns[0]
	}
	if len(cdn.videos) == 0 {
		return ""
	}
	video, found := lo.Find(cdn.videos, func(v map[string]any) bool { return toBool(v["isDefault"]) })
	if !found {
		video = cdn.videos[0]
	}
	return firstString(video, videoPathKeys...)
}

type sourceCandidate struct {
	quality    int
	url        string
	isDefault  bool
	cdnDefault bool
	cdnIndex   int
}

func collectSources(cdns []cdnEntry) []domain.VideoSource {
	var (
		order   []int
		buckets = map[int][]sourceCandidate{}
	)
	for cdnIndex, cdn := range cdns {
		for _, video := range cdn.videos {
			url := strings.TrimSpace(firstString(video, videoPathKeys...))
			if url == "" {
				continue
			}
			quality := parseQuality(video["quality"])
			if _, seen := buckets[quality]; !seen {
				order = append(order, quality)
			}
			buckets[quality] = append(buckets[quality], sourceCandidate{
				quality:    quality,
				url:        url,
				isDefault:  toBool(video["isDefault"]),
				cdnDefault: cdn.isDefault,
				cdnIndex:   cdnIndex,
			})
		}
	}

	sources := make([]domain.VideoSource, 0, len(order))
	for _, quality := range order {
		candidates := buckets[quality]
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.isDefault != b.isDefault {
				return a.isDefault
			}
			if a.cdnDefault != b.cdnDefault {
				return a.cdnDefault
			}
			return a.cdnIndex < b.cdnIndex
		})
		winner := candidates[0]
		backups := lo.Uniq(lo.FilterMap(candidates[1:], func(c sourceCandidate, _ int) (string, bool) {
			return c.url, c.url != winner.url
		}))
		sources = append(sources, domain.VideoSource{
			Quality:    quality,
			URL:        winner.url,
			IsDefault:  winner.isDefault,
			BackupURLs: backups,
		})
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Quality > sources[j].Quality
	})
	return sources
}

// parseQuality accepts 720, "720" and "720p". Unparseable tiers collapse into 0.
func parseQuality(value any) int {
	if n, ok := toPositiveInt(value); ok {
		return n
	}
	if text, ok := value.(string); ok {
		if n, ok := toPositiveInt(digitsPattern.FindString(text)); ok {
			return n
		}
	}
	return 0
}
