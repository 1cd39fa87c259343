package normalize

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"dramastream/internal/domain"
)

const defaultSubtitleKind = "subtitles"

var (
	subtitleFieldNames = map[string]struct{}{
		"subtitle": {}, "subtitles": {}, "subtitlelist": {}, "subtitle_list": {}, "subs": {},
		"caption": {}, "captions": {}, "tracks": {}, "texttracks": {}, "text_tracks": {},
	}
	subtitleExtensions = map[string]struct{}{
		".vtt": {}, ".srt": {}, ".ass": {}, ".ssa": {}, ".sub": {},
	}

	subtitleURLKeys     = []string{"url", "src", "file", "path", "subtitleUrl", "subtitle_url", "link", "vtt", "srt"}
	subtitleLabelKeys   = []string{"label", "name", "title", "languageName", "language"}
	subtitleLangKeys    = []string{"lang", "srclang", "language", "languageCode", "code", "locale"}
	subtitleDefaultKeys = []string{"isDefault", "default"}
)

// Subtitles collects every subtitle track reachable from an episode record.
// Tracks are deduplicated by URL and exactly one is default when none is flagged upstream.
func Subtitles(raw any) []domain.SubtitleTrack {
	c := &trackCollector{byURL: map[string]int{}}
	c.scan(raw, 0)
	return c.result()
}

// IsSubtitleURL reports whether raw is an absolute http(s) URL whose path ends in a
// known subtitle extension. Query and fragment are ignored.
func IsSubtitleURL(raw string) bool {
	_, ok := resolveSubtitleURL(raw)
	return ok
}

func resolveSubtitleURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	if _, ok := subtitleExtensions[strings.ToLower(path.Ext(parsed.Path))]; !ok {
		return "", false
	}
	return raw, true
}

func isSubtitleField(key string) bool {
	_, ok := subtitleFieldNames[strings.ToLower(key)]
	return ok
}

type trackCollector struct {
	tracks  []domain.SubtitleTrack
	byURL   map[string]int
	flagged bool
}

// scan walks the record looking for subtitle-holding fields.
func (c *trackCollector) scan(value any, depth int) {
	if depth > MaxScanDepth {
		return
	}
	switch v := value.(type) {
	case map[string]any:
		for _, key := range sortedKeys(v) {
			if isSubtitleField(key) {
				c.collect(v[key], "", depth+1)
				continue
			}
			c.scan(v[key], depth+1)
		}
	case []any:
		for _, item := range v {
			c.scan(item, depth+1)
		}
	}
}

// collect extracts tracks from a value found under a subtitle-holding field.
// hint is the enclosing key, used as a language hint for keyed track maps.
func (c *trackCollector) collect(value any, hint string, depth int) {
	if depth > MaxScanDepth {
		return
	}
	switch v := value.(type) {
	case string:
		c.add(v, "", hint, "", hint, false)
	case []any:
		for _, item := range v {
			c.collect(item, hint, depth+1)
		}
	case map[string]any:
		if link := firstString(v, subtitleURLKeys...); link != "" && IsSubtitleURL(link) {
			isDefault := false
			for _, key := range subtitleDefaultKeys {
				if toBool(v[key]) {
					isDefault = true
					break
				}
			}
			c.add(link,
				firstString(v, subtitleLabelKeys...),
				firstString(v, subtitleLangKeys...),
				firstString(v, "kind"),
				hint,
				isDefault,
			)
			for _, key := range sortedKeys(v) {
				if isSubtitleField(key) {
					c.collect(v[key], hint, depth+1)
				}
			}
			return
		}
		for _, key := range sortedKeys(v) {
			c.collect(v[key], key, depth+1)
		}
	}
}

func (c *trackCollector) add(rawURL, label, lang, kind, hint string, isDefault bool) {
	link, ok := resolveSubtitleURL(rawURL)
	if !ok {
		return
	}
	if isDefault {
		c.flagged = true
	}
	label = strings.TrimSpace(label)
	code := InferLang(lang, label, hint)

	if i, seen := c.byURL[link]; seen {
		existing := &c.tracks[i]
		existing.IsDefault = existing.IsDefault || isDefault
		if existing.Lang == "" {
			existing.Lang = code
		}
		return
	}

	if label == "" {
		label = strings.TrimSpace(hint)
	}
	if label == "" {
		label = fmt.Sprintf("Subtitle %d", len(c.tracks)+1)
	}
	if kind = strings.TrimSpace(kind); kind == "" {
		kind = defaultSubtitleKind
	}
	c.byURL[link] = len(c.tracks)
	c.tracks = append(c.tracks, domain.SubtitleTrack{
		URL:       link,
		Label:     label,
		Lang:      code,
		Kind:      kind,
		IsDefault: isDefault,
	})
}

func (c *trackCollector) result() []domain.SubtitleTrack {
	if len(c.tracks) == 0 {
		return []domain.SubtitleTrack{}
	}
	if !c.flagged {
		c.tracks[0].IsDefault = true
	}
	return c.tracks
}
