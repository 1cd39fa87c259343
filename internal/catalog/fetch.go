package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"dramastream/internal/domain"
	"dramastream/internal/normalize"
)

var (
	ErrStreamNotFound = errors.New("stream url not found in upstream response")
	ErrNoPaths        = errors.New("no request paths")
)

var catalogEndpoints = map[string]string{
	"foryou": "foryou",
	"new":    "latest",
	"rank":   "trending",
}

var (
	cacheRoutePattern    = regexp.MustCompile(`(?i)/cache/?$`)
	subtitleRoutePattern = regexp.MustCompile(`(?i)/subtitle$`)
)

// FetchCatalog lists one page of a catalog feed. Known kinds are mapped to their
// upstream endpoint; anything else is used verbatim.
func (c *Client) FetchCatalog(ctx context.Context, kind string, page int, extra url.Values) ([]domain.Series, error) {
	endpoint := strings.Trim(strings.TrimSpace(kind), "/")
	if mapped, ok := catalogEndpoints[endpoint]; ok {
		endpoint = mapped
	}
	if page < 1 {
		page = 1
	}

	params := url.Values{}
	for key, values := range extra {
		for _, value := range values {
			if value != "" {
				params.Add(key, value)
			}
		}
	}
	params.Set("page", strconv.Itoa(page))

	payload, err := c.tryPaths(ctx,
		"/"+endpoint+"?"+params.Encode(),
		fmt.Sprintf("/%s/%d", endpoint, page),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog %s: %w", endpoint, err)
	}
	return normalize.SeriesList(normalize.FindArray(payload)), nil
}

func (c *Client) SearchCatalog(ctx context.Context, query string) ([]domain.Series, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Series{}, nil
	}
	payload, err := c.tryPaths(ctx,
		"/search?query="+url.QueryEscape(query),
		"/search?q="+url.QueryEscape(query),
		"/search/"+url.PathEscape(query),
	)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return normalize.SeriesList(normalize.FindArray(payload)), nil
}

func (c *Client) FetchSeriesDetail(ctx context.Context, seriesID string) (domain.Series, error) {
	payload, err := c.tryPaths(ctx,
		"/detail?bookId="+url.QueryEscape(seriesID),
		"/detail/"+url.PathEscape(seriesID),
	)
	if err != nil {
		return domain.Series{}, fmt.Errorf("fetch detail %s: %w", seriesID, err)
	}
	return normalize.Series(detailRecord(payload), 0), nil
}

// detailRecord finds the series object inside a detail response.
func detailRecord(payload any) any {
	if obj, ok := payload.(map[string]any); ok {
		if normalize.LooksLikeSeries(obj) {
			return obj
		}
		for _, key := range []string{"data", "result"} {
			if nested, ok := obj[key].(map[string]any); ok {
				return nested
			}
		}
	}
	if items := normalize.FindArray(payload); len(items) > 0 {
		return items[0]
	}
	return map[string]any{}
}

// FetchEpisodes returns the episodes of a series ordered by episode number.
func (c *Client) FetchEpisodes(ctx context.Context, seriesID string, opts RequestOptions) ([]domain.Episode, error) {
	items, err := c.episodeRecords(ctx, seriesID, opts)
	if err != nil {
		return nil, err
	}
	return normalize.EpisodeList(items), nil
}

// FetchStream resolves a playable URL for one episode. With ForceRefresh the episode
// list is fetched past the gateway, which yields freshly signed URLs.
func (c *Client) FetchStream(ctx context.Context, seriesID string, episode int, opts RequestOptions) (string, error) {
	items, err := c.episodeRecords(ctx, seriesID, opts)
	if err != nil {
		return "", err
	}
	for index, raw := range items {
		normalized := normalize.Episode(raw, index)
		if normalized.Episode != episode {
			continue
		}
		if source, ok := normalized.DefaultSource(); ok && source.URL != "" {
			return source.URL, nil
		}
		if normalized.StreamURL != "" {
			return normalized.StreamURL, nil
		}
		if found := normalize.FindStringURL(raw); found != "" {
			return found, nil
		}
		break
	}
	return "", fmt.Errorf("%w: series %s episode %d", ErrStreamNotFound, seriesID, episode)
}

func (c *Client) episodeRecords(ctx context.Context, seriesID string, opts RequestOptions) ([]any, error) {
	resp, err := c.Request(ctx, "/allepisode?bookId="+url.QueryEscape(seriesID), opts)
	if err != nil {
		return nil, fmt.Errorf("fetch episodes %s: %w", seriesID, err)
	}
	payload, err := normalize.Decode(resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode episodes %s: %w", seriesID, err)
	}
	return normalize.FindArray(payload), nil
}

// tryPaths requests each path in order and returns the first decoded payload.
// When every path fails the last error is returned.
func (c *Client) tryPaths(ctx context.Context, paths ...string) (any, error) {
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	var lastErr error
	for _, path := range paths {
		resp, err := c.Request(ctx, path, RequestOptions{})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			continue
		}
		payload, err := normalize.Decode(resp.Payload)
		if err != nil {
			lastErr = err
			continue
		}
		return payload, nil
	}
	return nil, lastErr
}

// SubtitleProxyURL points a subtitle track at the gateway's /subtitle route, which
// serves it as WebVTT. Without a usable gateway the track URL is returned unchanged.
func (c *Client) SubtitleProxyURL(trackURL string) string {
	if trackURL == "" || c.gatewayURL == "" {
		return trackURL
	}
	endpoint, err := url.Parse(c.gatewayURL)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return trackURL
	}
	path := cacheRoutePattern.ReplaceAllString(endpoint.Path, "/subtitle")
	if !subtitleRoutePattern.MatchString(path) {
		path = strings.TrimRight(path, "/") + "/subtitle"
	}
	endpoint.Path = path
	endpoint.RawPath = ""
	endpoint.Fragment = ""
	endpoint.RawQuery = url.Values{"url": {trackURL}}.Encode()
	return endpoint.String()
}
