package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dramastream/internal/catalog"
	"dramastream/internal/httpx"
	"dramastream/internal/metrics"
)

const (
	keyAPIBaseURL      = "api_base_url"
	keyCacheGatewayURL = "cache_gateway_url"
	keyCacheWriteToken = "cache_write_token"
	keyAPIToken        = "api_token"
	keyTimeout         = "timeout"
	keyLogLevel        = "log_level"
	keyMetricsFile     = "metrics_file"
)

// newRootCmd builds the command tree. Settings come from DRAMA_* variables, overridden by
// flags. The returned func waits for pending cache write-backs.
func newRootCmd() (*cobra.Command, func()) {
	v := viper.New()
	v.SetEnvPrefix("DRAMA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	v.SetDefault(keyTimeout, 20*time.Second)
	v.SetDefault(keyLogLevel, "warn")

	root := &cobra.Command{
		Use:           "dramactl",
		Short:         "Query the drama catalog through the edge cache gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("api-base-url", "", "Upstream API base URL (DRAMA_API_BASE_URL)")
	flags.String("cache-gateway-url", "", "Cache gateway /cache endpoint (DRAMA_CACHE_GATEWAY_URL)")
	flags.String("cache-write-token", "", "Token for cache write-back (DRAMA_CACHE_WRITE_TOKEN)")
	flags.String("api-token", "", "Upstream API token (DRAMA_API_TOKEN)")
	flags.Duration("timeout", 20*time.Second, "HTTP timeout per request (DRAMA_TIMEOUT)")
	flags.String("log-level", "warn", "Log level: debug, info, warn, error (DRAMA_LOG_LEVEL)")
	flags.String("metrics-file", "", "Write client metrics in Prometheus text format to this file on exit (DRAMA_METRICS_FILE)")
	for key, flag := range map[string]string{
		keyAPIBaseURL:      "api-base-url",
		keyCacheGatewayURL: "cache-gateway-url",
		keyCacheWriteToken: "cache-write-token",
		keyAPIToken:        "api-token",
		keyTimeout:         "timeout",
		keyLogLevel:        "log-level",
		keyMetricsFile:     "metrics-file",
	} {
		lo.Must0(v.BindPFlag(key, flags.Lookup(flag)))
	}

	app := &cliApp{config: v}
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.init(cmd.ErrOrStderr())
	}

	root.AddCommand(
		newCatalogCmd(app),
		newSearchCmd(app),
		newDetailCmd(app),
		newEpisodesCmd(app),
		newStreamCmd(app),
		newResolveCmd(app),
	)
	return root, app.close
}

type cliApp struct {
	config   *viper.Viper
	logger   *slog.Logger
	client   *catalog.Client
	registry *prometheus.Registry
}

func (a *cliApp) init(stderr io.Writer) error {
	baseURL := strings.TrimSpace(a.config.GetString(keyAPIBaseURL))
	if baseURL == "" {
		return errMissingBaseURL
	}
	a.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: parseLogLevel(a.config.GetString(keyLogLevel)),
	}))
	a.client = catalog.NewClient(catalog.Config{
		BaseURL:    baseURL,
		GatewayURL: a.config.GetString(keyCacheGatewayURL),
		WriteToken: a.config.GetString(keyCacheWriteToken),
		APIToken:   a.config.GetString(keyAPIToken),
	},
		catalog.WithHTTPClient(httpx.NewClient(a.config.GetDuration(keyTimeout))),
		catalog.WithLogger(a.logger),
	)
	if strings.TrimSpace(a.config.GetString(keyMetricsFile)) != "" {
		a.registry = prometheus.NewRegistry()
		metrics.RegisterClient(a.registry)
	}
	return nil
}

// close lets pending cache write-backs land before the process exits, then dumps the
// client metrics when a metrics file was requested.
func (a *cliApp) close() {
	if a.client != nil {
		a.client.Wait()
	}
	if a.registry == nil {
		return
	}
	path := strings.TrimSpace(a.config.GetString(keyMetricsFile))
	if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
		a.logger.Warn("write metrics file failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
