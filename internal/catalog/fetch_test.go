package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
)

// routedUpstream answers by exact RequestURI and records the order of requests.
type routedUpstream struct {
	mu     sync.Mutex
	routes map[string]string
	seen   []string
}

func (u *routedUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.seen = append(u.seen, r.URL.RequestURI())
	body, ok := u.routes[r.URL.RequestURI()]
	u.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no route ` + r.URL.Path + `"}`))
		return
	}
	_, _ = w.Write([]byte(body))
}

func (u *routedUpstream) requests() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.seen...)
}

func TestFetchCatalogFallsBackToPathVariant(t *testing.T) {
	upstream := &routedUpstream{routes: map[string]string{
		"/latest/2": `{"data":{"list":[{"bookId":"b1","bookName":"Satu"},{"bookId":"b2"}]}}`,
	}}
	client := newTestClient(t, upstream, nil)

	series, err := client.FetchCatalog(context.Background(), "new", 2, url.Values{"lang": {"in"}, "empty": {""}})
	if err != nil {
		t.Fatalf("fetch catalog: %v", err)
	}
	if len(series) != 1 || series[0].ID != "b1" || series[0].Title != "Satu" {
		t.Fatalf("unexpected series: %+v", series)
	}
	seen := upstream.requests()
	if len(seen) != 2 || seen[0] != "/latest?lang=in&page=2" || seen[1] != "/latest/2" {
		t.Fatalf("unexpected request order: %v", seen)
	}
}

func TestFetchCatalogSurfacesLastError(t *testing.T) {
	upstream := &routedUpstream{routes: map[string]string{}}
	client := newTestClient(t, upstream, nil)

	_, err := client.FetchCatalog(context.Background(), "rank", 0, nil)
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstreamErr.Message != "no route /trending/1" {
		t.Fatalf("expected the last variant's error, got %q", upstreamErr.Message)
	}
}

func TestTryPathsWithoutPaths(t *testing.T) {
	client := newTestClient(t, &routedUpstream{}, nil)
	if _, err := client.tryPaths(context.Background()); !errors.Is(err, ErrNoPaths) {
		t.Fatalf("expected ErrNoPaths, got %v", err)
	}
}

func TestSearchCatalogEscapesQuery(t *testing.T) {
	upstream := &routedUpstream{routes: map[string]string{
		"/search/cinta%20CEO": `[{"bookId":"9","bookName":"Cinta CEO"}]`,
	}}
	client := newTestClient(t, upstream, nil)

	series, err := client.SearchCatalog(context.Background(), "  cinta CEO ")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(series) != 1 || series[0].ID != "9" {
		t.Fatalf("unexpected result: %+v", series)
	}
	seen := upstream.requests()
	want := []string{"/search?query=cinta+CEO", "/search?q=cinta+CEO", "/search/cinta%20CEO"}
	if len(seen) != len(want) {
		t.Fatalf("requests = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("request %d = %q, want %q", i, seen[i], want[i])
		}
	}

	empty, err := client.SearchCatalog(context.Background(), "   ")
	if err != nil || len(empty) != 0 {
		t.Fatalf("blank query should be empty without error, got %v %v", empty, err)
	}
}

func TestFetchSeriesDetailShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		id   string
	}{
		{"bare record", `{"bookId":"41","bookName":"Bare","extra":{"bookId":"x"}}`, "41"},
		{"data envelope", `{"code":0,"data":{"id":"42","title":"Wrapped"}}`, "42"},
		{"result envelope", `{"result":{"id":"43","title":"Result"}}`, "43"},
		{"array", `{"items":[{"id":"44","title":"First"},{"id":"45","title":"Second"}]}`, "44"},
	}
	for _, tc := range cases {
		upstream := &routedUpstream{routes: map[string]string{"/detail?bookId=s1": tc.body}}
		client := newTestClient(t, upstream, nil)
		series, err := client.FetchSeriesDetail(context.Background(), "s1")
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if series.ID != tc.id {
			t.Fatalf("%s: id = %q, want %q", tc.name, series.ID, tc.id)
		}
	}
}

func TestFetchSeriesDetailEmptyRecord(t *testing.T) {
	upstream := &routedUpstream{routes: map[string]string{"/detail/s1": `{"status":"ok"}`}}
	client := newTestClient(t, upstream, nil)

	series, err := client.FetchSeriesDetail(context.Background(), "s1")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if series.Title != "Untitled Series" || series.ID == "" {
		t.Fatalf("expected placeholder series, got %+v", series)
	}
}

const episodesBody = `{"data":{"list":[
  {"chapterId":"c2","chapterIndex":1,"chapterName":"EP 2","cdnList":[
    {"isDefault":1,"videoPathList":[
      {"quality":540,"videoPath":"https://cdn.example.com/ep2-540.m3u8"},
      {"quality":720,"isDefault":1,"videoPath":"https://cdn.example.com/ep2-720.m3u8"}]}]},
  {"chapterId":"c1","chapterIndex":0,"chapterName":"EP 1","cdnList":[]},
  {"chapterId":"c3","chapterIndex":2,"chapterName":"EP 3","playInfo":{"m3u8":"https://alt.example.com/ep3.m3u8"}},
  {"chapterId":"c4","chapterIndex":3,"chapterName":"EP 4"}
]}}`

func TestFetchEpisodesSorted(t *testing.T) {
	upstream := &routedUpstream{routes: map[string]string{"/allepisode?bookId=b1": episodesBody}}
	client := newTestClient(t, upstream, nil)

	episodes, err := client.FetchEpisodes(context.Background(), "b1", RequestOptions{})
	if err != nil {
		t.Fatalf("episodes: %v", err)
	}
	if len(episodes) != 4 {
		t.Fatalf("expected 4 episodes, got %d", len(episodes))
	}
	for i, episode := range episodes {
		if episode.Episode != i+1 {
			t.Fatalf("episode %d has number %d", i, episode.Episode)
		}
	}
}

func TestFetchStreamResolution(t *testing.T) {
	upstream := &routedUpstream{routes: map[string]string{"/allepisode?bookId=b1": episodesBody}}
	client := newTestClient(t, upstream, nil)
	ctx := context.Background()

	got, err := client.FetchStream(ctx, "b1", 2, RequestOptions{})
	if err != nil || got != "https://cdn.example.com/ep2-720.m3u8" {
		t.Fatalf("episode 2: %q %v", got, err)
	}
	got, err = client.FetchStream(ctx, "b1", 3, RequestOptions{})
	if err != nil || got != "https://alt.example.com/ep3.m3u8" {
		t.Fatalf("episode 3: %q %v", got, err)
	}
	for _, number := range []int{1, 4, 99} {
		if _, err := client.FetchStream(ctx, "b1", number, RequestOptions{}); !errors.Is(err, ErrStreamNotFound) {
			t.Fatalf("episode %d: expected ErrStreamNotFound, got %v", number, err)
		}
	}
}

func TestSubtitleProxyURL(t *testing.T) {
	track := "https://subs.example.com/ep 1.srt"
	cases := []struct {
		gateway string
		want    string
	}{
		{"https://edge.example.com/cache", "https://edge.example.com/subtitle?url=https%3A%2F%2Fsubs.example.com%2Fep+1.srt"},
		{"https://edge.example.com/api/CACHE/", "https://edge.example.com/api/subtitle?url=https%3A%2F%2Fsubs.example.com%2Fep+1.srt"},
		{"https://edge.example.com/", "https://edge.example.com/subtitle?url=https%3A%2F%2Fsubs.example.com%2Fep+1.srt"},
		{"https://edge.example.com/subtitle?x=1", "https://edge.example.com/subtitle?url=https%3A%2F%2Fsubs.example.com%2Fep+1.srt"},
		{"", track},
		{"not a url", track},
	}
	for _, tc := range cases {
		client := NewClient(Config{BaseURL: "https://api.example.com", GatewayURL: tc.gateway})
		if got := client.SubtitleProxyURL(track); got != tc.want {
			t.Fatalf("gateway %q: got %q want %q", tc.gateway, got, tc.want)
		}
	}
}
