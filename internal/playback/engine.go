// Package playback decides which URL the player should load for an episode and how to
// recover when that URL fails.
//
// Recovery for one episode walks a fixed ladder: the mirrors of the current quality
// tier in order, then a single forced refresh of the episode list, then failure.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dramastream/internal/catalog"
	"dramastream/internal/domain"
	"dramastream/internal/metrics"
)

var (
	ErrNoEpisode = errors.New("no episode selected")
	ErrNoSource  = errors.New("no playable source for episode")
	ErrExhausted = errors.New("stream failed and no alternative source is left")

	// ErrSuperseded is returned when another episode was selected while a lookup
	// for the previous one was in flight. The engine state belongs to the newer one.
	ErrSuperseded = errors.New("selection changed while resolving")
)

// Resolver looks up a stream URL for an episode. *catalog.Client implements it.
type Resolver interface {
	FetchStream(ctx context.Context, seriesID string, episode int, opts catalog.RequestOptions) (string, error)
}

// SubtitleRewriter maps a subtitle track URL onto a player-compatible one.
type SubtitleRewriter interface {
	SubtitleProxyURL(trackURL string) string
}

// Command tells the player surface what to load.
type Command struct {
	EpisodeID string
	URL       string
	Quality   Quality
	Seek      time.Duration
	AutoPlay  bool
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithSubtitleRewriter(rewriter SubtitleRewriter) Option {
	return func(e *Engine) {
		e.subtitles = rewriter
	}
}

// Engine is the playback state of one series session. It is meant to be driven by a
// single goroutine; the mutex only keeps accessors safe. The mutex is released while
// the resolver is called, so accessors never wait on the network.
type Engine struct {
	mu sync.Mutex

	resolver  Resolver
	subtitles SubtitleRewriter
	logger    *slog.Logger

	seriesID string
	episodes []domain.Episode

	state     State
	current   int
	episode   domain.Episode
	quality   Quality
	streamURL string
	err       error

	// generation changes on every selection.
	generation uint64

	// tried holds "episodeID|url" for mirrors already switched to.
	tried map[string]struct{}
	// refreshed holds episode IDs that used up their forced refresh.
	refreshed map[string]struct{}
}

// NewEngine starts an idle session over episodes, which should be ordered by number.
func NewEngine(resolver Resolver, seriesID string, episodes []domain.Episode, options ...Option) *Engine {
	engine := &Engine{
		resolver:  resolver,
		logger:    slog.Default(),
		seriesID:  seriesID,
		episodes:  append([]domain.Episode(nil), episodes...),
		current:   -1,
		quality:   QualityAuto,
		tried:     make(map[string]struct{}),
		refreshed: make(map[string]struct{}),
	}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) StreamURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamURL
}

func (e *Engine) Quality() Quality {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quality
}

// Err is the displayable error of the Failed state.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Current returns the selected episode.
func (e *Engine) Current() (domain.Episode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.episode, e.episode.ID != ""
}

// Subtitles returns the tracks of the selected episode, rewritten for the player when a
// rewriter is configured.
func (e *Engine) Subtitles() []domain.SubtitleTrack {
	e.mu.Lock()
	defer e.mu.Unlock()
	tracks := make([]domain.SubtitleTrack, 0, len(e.episode.Subtitles))
	for _, track := range e.episode.Subtitles {
		if e.subtitles != nil {
			track.URL = e.subtitles.SubtitleProxyURL(track.URL)
		}
		tracks = append(tracks, track)
	}
	return tracks
}

// SelectEpisode starts playback of episode. An explicit quality that the episode offers
// wins; otherwise the default source, the first source, the episode stream URL and
// finally a resolver lookup are tried in that order.
func (e *Engine) SelectEpisode(ctx context.Context, episode domain.Episode, quality Quality, autoPlay bool) (Command, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectLocked(ctx, episode, quality, autoPlay, EventSelectEpisode)
}

func (e *Engine) selectLocked(ctx context.Context, episode domain.Episode, quality Quality, autoPlay bool, event Event) (Command, error) {
	e.generation++
	e.episode = episode
	e.current = e.indexOf(episode.ID)
	e.err = nil
	e.streamURL = ""
	e.forgetMirrors(episode.ID)
	e.transition(StateLoading, event)

	source, ok := pickSource(episode, quality)
	url := source.URL
	switch {
	case ok && url != "":
		e.quality = Quality(source.Quality)
	case episode.StreamURL != "":
		url = episode.StreamURL
		e.quality = QualityAuto
	default:
		e.quality = QualityAuto
		generation := e.generation
		resolved, err := e.fetchUnlocked(ctx, episode.Episode, catalog.RequestOptions{})
		if generation != e.generation || e.state != StateLoading {
			return Command{}, ErrSuperseded
		}
		if err != nil {
			return Command{}, e.fail(fmt.Errorf("resolve episode %d: %w", episode.Episode, err), event)
		}
		if resolved == "" {
			return Command{}, e.fail(ErrNoSource, event)
		}
		url = resolved
	}

	e.streamURL = url
	return e.command(0, autoPlay), nil
}

// Ready records that the player loaded the current URL.
func (e *Engine) Ready() {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateLoading, StateRetryingBackup, StateRetryingRefresh:
		e.transition(StatePlaying, EventReady)
	}
}

// ChangeQuality switches tiers while keeping the playback position. It reports false
// when the URL would not change. A tier the episode does not offer is ignored.
func (e *Engine) ChangeQuality(quality Quality, position time.Duration, playing bool) (Command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.episode.ID == "" || len(e.episode.Sources) == 0 {
		return Command{}, false
	}

	var (
		source domain.VideoSource
		ok     bool
	)
	if quality == QualityAuto {
		source, ok = e.episode.DefaultSource()
	} else {
		source, ok = e.episode.SourceForQuality(int(quality))
	}
	if !ok || source.URL == "" {
		return Command{}, false
	}
	e.quality = quality
	if source.URL == e.streamURL {
		return Command{}, false
	}

	e.streamURL = source.URL
	e.err = nil
	e.transition(StateLoading, EventUserQualityChange)
	return e.command(position, playing), true
}

// SourceError advances the recovery ladder after the player failed to load the current
// URL. ErrExhausted is returned once nothing is left; repeated errors in that state do
// not retry again.
func (e *Engine) SourceError(ctx context.Context) (Command, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.episode.ID == "" {
		return Command{}, ErrNoEpisode
	}
	if e.state == StateFailed {
		return Command{}, e.err
	}

	if next, ok := e.nextMirror(); ok {
		e.tried[mirrorKey(e.episode.ID, next)] = struct{}{}
		e.streamURL = next
		e.transition(StateRetryingBackup, EventSourceError)
		return e.command(0, true), nil
	}

	if _, done := e.refreshed[e.episode.ID]; done {
		return Command{}, e.fail(ErrExhausted, EventSourceError)
	}
	e.refreshed[e.episode.ID] = struct{}{}
	e.transition(StateRetryingRefresh, EventSourceError)

	generation := e.generation
	fresh, err := e.fetchUnlocked(ctx, e.episode.Episode, catalog.RequestOptions{ForceRefresh: true})
	if generation != e.generation || e.state != StateRetryingRefresh {
		return Command{}, ErrSuperseded
	}
	if err != nil {
		return Command{}, e.fail(fmt.Errorf("%w: refresh: %w", ErrExhausted, err), EventRefreshResult)
	}
	if fresh == "" || fresh == e.streamURL {
		return Command{}, e.fail(ErrExhausted, EventRefreshResult)
	}
	e.streamURL = fresh
	e.logger.Info("stream refreshed",
		slog.String("seriesId", e.seriesID),
		slog.String("episodeId", e.episode.ID),
	)
	return e.command(0, true), nil
}

// Ended moves to the next episode with a greater number, auto-playing it. It reports
// false and goes idle at the end of the list.
func (e *Engine) Ended(ctx context.Context) (Command, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current < 0 {
		e.transition(StateIdle, EventEnded)
		return Command{}, false, nil
	}
	for _, candidate := range e.episodes[e.current+1:] {
		if candidate.Episode > e.episode.Episode {
			cmd, err := e.selectLocked(ctx, candidate, e.quality, true, EventEnded)
			return cmd, err == nil, err
		}
	}
	e.transition(StateIdle, EventEnded)
	return Command{}, false, nil
}

// fetchUnlocked calls the resolver with e.mu released. The caller holds e.mu and must
// re-check the generation afterwards.
func (e *Engine) fetchUnlocked(ctx context.Context, episode int, opts catalog.RequestOptions) (string, error) {
	seriesID := e.seriesID
	e.mu.Unlock()
	defer e.mu.Lock()
	return e.resolver.FetchStream(ctx, seriesID, episode, opts)
}

// nextMirror returns the first untried URL after the current one in the ladder of the
// active quality tier.
func (e *Engine) nextMirror() (string, bool) {
	var (
		source domain.VideoSource
		ok     bool
	)
	if e.quality == QualityAuto {
		source, ok = e.episode.DefaultSource()
	} else {
		source, ok = e.episode.SourceForQuality(int(e.quality))
	}
	if !ok {
		return "", false
	}
	ladder := source.URLs()
	position := -1
	for i, url := range ladder {
		if url == e.streamURL {
			position = i
			break
		}
	}
	if position == -1 {
		return "", false
	}
	for _, url := range ladder[position+1:] {
		if _, seen := e.tried[mirrorKey(e.episode.ID, url)]; !seen {
			return url, true
		}
	}
	return "", false
}

func (e *Engine) forgetMirrors(episodeID string) {
	prefix := episodeID + "|"
	for key := range e.tried {
		if strings.HasPrefix(key, prefix) {
			delete(e.tried, key)
		}
	}
}

func (e *Engine) indexOf(episodeID string) int {
	for i, episode := range e.episodes {
		if episode.ID == episodeID {
			return i
		}
	}
	return -1
}

func (e *Engine) command(seek time.Duration, autoPlay bool) Command {
	return Command{
		EpisodeID: e.episode.ID,
		URL:       e.streamURL,
		Quality:   e.quality,
		Seek:      seek,
		AutoPlay:  autoPlay,
	}
}

func (e *Engine) fail(err error, event Event) error {
	e.err = err
	e.transition(StateFailed, event)
	e.logger.Warn("playback failed",
		slog.String("seriesId", e.seriesID),
		slog.String("episodeId", e.episode.ID),
		slog.String("error", err.Error()),
	)
	return err
}

func (e *Engine) transition(to State, event Event) {
	from := e.state
	e.state = to
	metrics.PlaybackTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	e.logger.Debug("playback state transition",
		slog.String("seriesId", e.seriesID),
		slog.String("episodeId", e.episode.ID),
		slog.String("event", string(event)),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

func mirrorKey(episodeID, url string) string {
	return episodeID + "|" + url
}

func pickSource(episode domain.Episode, quality Quality) (domain.VideoSource, bool) {
	if quality != QualityAuto {
		if source, ok := episode.SourceForQuality(int(quality)); ok {
			return source, true
		}
	}
	return episode.DefaultSource()
}
