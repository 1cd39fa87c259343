package main

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"dramastream/internal/catalog"
	"dramastream/internal/domain"
	"dramastream/internal/playback"
)

var errMissingBaseURL = errors.New("upstream API base URL is required (--api-base-url or DRAMA_API_BASE_URL)")

func newCatalogCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog <foryou|new|rank|endpoint>",
		Short: "List one page of a catalog feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page := lo.Must(cmd.Flags().GetInt("page"))
			extra, err := parseParams(lo.Must(cmd.Flags().GetStringArray("param")))
			if err != nil {
				return err
			}
			series, err := app.client.FetchCatalog(cmd.Context(), args[0], page, extra)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), series)
		},
	}
	cmd.Flags().Int("page", 1, "Page number")
	cmd.Flags().StringArray("param", nil, "Extra query parameter as key=value (repeatable)")
	return cmd
}

func newSearchCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			series, err := app.client.SearchCatalog(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), series)
		},
	}
}

func newDetailCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "detail <seriesId>",
		Short: "Show one series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			series, err := app.client.FetchSeriesDetail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), series)
		},
	}
}

func newEpisodesCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "episodes <seriesId>",
		Short: "List the episodes of a series with their sources and subtitles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := catalog.RequestOptions{ForceRefresh: lo.Must(cmd.Flags().GetBool("refresh"))}
			episodes, err := app.client.FetchEpisodes(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), episodes)
		},
	}
	cmd.Flags().Bool("refresh", false, "Bypass the cache gateway")
	return cmd
}

func newStreamCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream <seriesId> <episode>",
		Short: "Print the stream URL of one episode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseEpisodeNumber(args[1])
			if err != nil {
				return err
			}
			opts := catalog.RequestOptions{ForceRefresh: lo.Must(cmd.Flags().GetBool("refresh"))}
			streamURL, err := app.client.FetchStream(cmd.Context(), args[0], number, opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), streamURL)
			return err
		},
	}
	cmd.Flags().Bool("refresh", false, "Bypass the cache gateway")
	return cmd
}

// resolveStep is one line of the resolve transcript.
type resolveStep struct {
	Event   string `json:"event"`
	State   string `json:"state"`
	URL     string `json:"url,omitempty"`
	Quality string `json:"quality,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newResolveCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <seriesId> <episode>",
		Short: "Walk the playback failover ladder for one episode",
		Long: "Selects the episode like the player would, then reports --failures consecutive " +
			"load errors and prints every URL the failover ladder hands out.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseEpisodeNumber(args[1])
			if err != nil {
				return err
			}
			quality, err := playback.ParseQuality(lo.Must(cmd.Flags().GetString("quality")))
			if err != nil {
				return err
			}
			failures := lo.Must(cmd.Flags().GetInt("failures"))

			ctx := cmd.Context()
			episodes, err := app.client.FetchEpisodes(ctx, args[0], catalog.RequestOptions{})
			if err != nil {
				return err
			}
			episode, found := lo.Find(episodes, func(item domain.Episode) bool { return item.Episode == number })
			if !found {
				return fmt.Errorf("episode %d not found in series %s", number, args[0])
			}

			engine := playback.NewEngine(app.client, args[0], episodes,
				playback.WithLogger(app.logger),
				playback.WithSubtitleRewriter(app.client),
			)
			steps := make([]resolveStep, 0, failures+1)
			record := func(event playback.Event, command playback.Command, err error) {
				step := resolveStep{Event: string(event), State: engine.State().String(), URL: command.URL}
				if command.URL != "" {
					step.Quality = command.Quality.String()
				}
				if err != nil {
					step.Error = err.Error()
				}
				steps = append(steps, step)
			}

			command, err := engine.SelectEpisode(ctx, episode, quality, false)
			record(playback.EventSelectEpisode, command, err)
			for i := 0; i < failures && err == nil; i++ {
				command, err = engine.SourceError(ctx)
				record(playback.EventSourceError, command, err)
			}

			return printJSON(cmd.OutOrStdout(), map[string]any{
				"steps":     steps,
				"subtitles": engine.Subtitles(),
			})
		},
	}
	cmd.Flags().String("quality", "auto", "Preferred quality: auto, 1080, 720p, ...")
	cmd.Flags().Int("failures", 0, "Number of load errors to simulate")
	return cmd
}

func parseEpisodeNumber(raw string) (int, error) {
	number, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || number <= 0 {
		return 0, fmt.Errorf("invalid episode number %q", raw)
	}
	return number, nil
}

func parseParams(pairs []string) (url.Values, error) {
	values := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		values.Add(strings.TrimSpace(key), value)
	}
	return values, nil
}
