package normalize

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"dramastream/internal/domain"
)

// UntitledSeries is the title given to records that carry no recognizable title field.
const UntitledSeries = "Untitled Series"

var (
	seriesTitleKeys    = []string{"bookName", "title", "name", "series_title", "drama_title", "series_name"}
	seriesIDKeys       = []string{"bookId", "id", "series_id", "seriesId", "drama_id", "slug"}
	seriesSynopsisKeys = []string{"introduction", "synopsis", "description", "overview"}
	seriesPosterKeys   = []string{"coverWap", "poster", "cover", "image", "thumbnail", "thumb"}
	seriesRatingKeys   = []string{"rating", "score", "imdb"}
	seriesEpisodeKeys  = []string{"chapterCount", "total_episodes", "episode_count", "chapters", "chapter_count"}

	// seriesMarkerKeys identify an object that is itself a series record rather than an envelope.
	seriesMarkerKeys = []string{"bookId", "bookName", "coverWap", "introduction"}
)

// Series normalizes one raw record. index disambiguates the fallback ID within a batch.
func Series(raw any, index int) domain.Series {
	series, _ := normalizeSeries(raw, index)
	return series
}

// SeriesList normalizes a result list, dropping records without a usable title.
func SeriesList(items []any) []domain.Series {
	out := make([]domain.Series, 0, len(items))
	for index, item := range items {
		series, titled := normalizeSeries(item, index)
		if !titled {
			continue
		}
		out = append(out, series)
	}
	return out
}

// LooksLikeSeries reports whether payload is a bare series record.
func LooksLikeSeries(payload any) bool {
	obj := asObject(payload)
	if obj == nil {
		return false
	}
	return firstValue(obj, seriesMarkerKeys...) != nil
}

func normalizeSeries(raw any, index int) (domain.Series, bool) {
	obj := asObject(raw)

	title := strings.TrimSpace(firstString(obj, seriesTitleKeys...))
	titled := title != ""
	if !titled {
		title = UntitledSeries
	}

	id := strings.TrimSpace(firstString(obj, seriesIDKeys...))
	if id == "" {
		id = fmt.Sprintf("%s-%d", title, index)
	}

	series := domain.Series{
		ID:       id,
		Title:    title,
		Synopsis: firstString(obj, seriesSynopsisKeys...),
		Poster:   firstString(obj, seriesPosterKeys...),
		Status:   firstString(obj, "status"),
		Genres:   extractGenres(obj),
	}
	if rating, ok := toFloat(firstValue(obj, seriesRatingKeys...)); ok {
		series.Rating = &rating
	}
	if total, ok := totalEpisodes(firstValue(obj, seriesEpisodeKeys...)); ok {
		series.TotalEpisodes = &total
	}
	return series, titled
}

func totalEpisodes(value any) (int, bool) {
	if list, ok := value.([]any); ok {
		return len(list), len(list) > 0
	}
	return toPositiveInt(value)
}

func extractGenres(obj map[string]any) []string {
	var raw []any
	switch {
	case isList(obj["genres"]):
		raw = obj["genres"].([]any)
	case isList(obj["tags"]):
		raw = obj["tags"].([]any)
	case isString(obj["genres"]):
		raw = splitCSV(obj["genres"].(string))
	case isString(obj["genre"]):
		raw = splitCSV(obj["genre"].(string))
	}

	return lo.FilterMap(raw, func(item any, _ int) (string, bool) {
		var name string
		if tag := asObject(item); tag != nil {
			name = firstString(tag, "name", "tagName", "title")
		} else {
			name = stringify(item)
		}
		name = strings.TrimSpace(name)
		return name, name != ""
	})
}

func splitCSV(value string) []any {
	parts := strings.Split(value, ",")
	return lo.Map(parts, func(part string, _ int) any { return part })
}

func isList(value any) bool {
	_, ok := value.([]any)
	return ok
}

func isString(value any) bool {
	_, ok := value.(string)
	return ok
}
