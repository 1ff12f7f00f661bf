package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/presay/internal/api"
	"github.com/MrWong99/presay/internal/balancer"
	"github.com/MrWong99/presay/internal/cache"
	"github.com/MrWong99/presay/internal/config"
	"github.com/MrWong99/presay/internal/observe"
	"github.com/MrWong99/presay/internal/pool"
	"github.com/MrWong99/presay/internal/server"
	"github.com/MrWong99/presay/internal/upstream"
)

// ── test doubles ──

// testMetrics returns a Metrics instance on a private provider so tests do
// not touch the global OTel state.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// ttsRecorder counts synthesis requests by input text and by model.
type ttsRecorder struct {
	mu     sync.Mutex
	inputs map[string]int
	models map[string]int
}

func (r *ttsRecorder) record(input, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inputs == nil {
		r.inputs = make(map[string]int)
		r.models = make(map[string]int)
	}
	r.inputs[input]++
	r.models[model]++
}

func (r *ttsRecorder) inputCount(input string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs[input]
}

func (r *ttsRecorder) modelCount(model string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.models[model]
}

// fakeTTSServer emulates one TTS endpoint: /health always succeeds and
// /v1/audio/speech returns a recognizable payload derived from the input.
func fakeTTSServer(t *testing.T, rec *ttsRecorder, fail bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("unexpected TTS path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if rec != nil {
			rec.record(req.Input, req.Model)
		}
		if fail {
			http.Error(w, "synth broken", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("wav(" + req.Input + ")"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// capturedPayload holds the body the fake provider last received.
type capturedPayload struct {
	mu sync.Mutex
	m  map[string]any
}

func (p *capturedPayload) set(m map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m = m
}

func (p *capturedPayload) get() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m
}

type providerBehavior struct {
	streamChunks []string // SSE delta contents, in order
	completion   string   // assistant content for buffered requests
	status       int      // non-zero: respond with this status and errorBody
	errorBody    string
}

// fakeProvider emulates the upstream chat-completion service.
func fakeProvider(t *testing.T, pb providerBehavior, captured *capturedPayload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected provider path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want Bearer sk-test", auth)
		}

		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if captured != nil {
			captured.set(payload)
		}

		if pb.status != 0 {
			w.WriteHeader(pb.status)
			_, _ = io.WriteString(w, pb.errorBody)
			return
		}

		if stream, _ := payload["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			fl := w.(http.Flusher)
			for _, c := range pb.streamChunks {
				_, _ = fmt.Fprintf(w, "data: %s\n\n", streamChunkJSON(c))
				fl.Flush()
			}
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON(pb.completion))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func streamChunkJSON(content string) string {
	quoted, _ := json.Marshal(content)
	return `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"content":` + string(quoted) + `}}]}`
}

func completionJSON(content string) string {
	quoted, _ := json.Marshal(content)
	return `{"id":"c1","object":"chat.completion","created":1,"model":"gpt","choices":[{"index":0,"message":{"role":"assistant","content":` + string(quoted) + `}}]}`
}

// ── harness ──

type env struct {
	proxy *httptest.Server
	cache *cache.Cache
	pool  *pool.Pool
}

// newEnv wires real components end to end: pool and balancer against the
// fake TTS endpoints, upstream client against the fake provider, and the
// Server handler on an httptest listener.
func newEnv(t *testing.T, providerURL string, ttsURLs []string) *env {
	t.Helper()
	m := testMetrics(t)

	cfg := config.Default()
	cfg.NewAPIBaseURL = providerURL
	cfg.NewAPIAPIKey = "sk-test"
	cfg.TTSEndpoints = strings.Join(ttsURLs, ",")
	cfg.TTSRequestTimeout = 5

	p, err := pool.New(cfg.Endpoints(), cfg.TTSMaxConcurrentPerEndpoint)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	bal := balancer.New(p,
		balancer.WithTimeout(5*time.Second),
		balancer.WithRetryCount(cfg.TTSRetryCount),
		balancer.WithBackoff(time.Millisecond),
		balancer.WithMetrics(m))
	c := cache.New(bal, cache.Config{Metrics: m})

	s := server.New(server.Deps{
		Config:   cfg,
		Cache:    c,
		Balancer: bal,
		Upstream: upstream.New(cfg.NewAPIBaseURL, cfg.NewAPIAPIKey, 5*time.Second),
		Metrics:  m,
	})

	proxy := httptest.NewServer(s.Handler())
	t.Cleanup(proxy.Close)
	return &env{proxy: proxy, cache: c, pool: p}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decoding GET %s: %v", url, err)
		}
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) api.ErrorBody {
	t.Helper()
	var body api.ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ── chat completions ──

func TestChatCompletions_StreamRelayAndPrefetch(t *testing.T) {
	t.Parallel()

	rec := &ttsRecorder{}
	tts := fakeTTSServer(t, rec, false)
	captured := &capturedPayload{}
	provider := fakeProvider(t, providerBehavior{
		streamChunks: []string{"Hello world. ", "How are you today? I am fine."},
	}, captured)
	e := newEnv(t, provider.URL, []string{tts.URL})

	resp := postJSON(t, e.proxy.URL+"/v1/chat/completions",
		`{"model":"gpt","stream":true,"tts_model":"liang","messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	wantBody := "data: " + streamChunkJSON("Hello world. ") + "\n\n" +
		"data: " + streamChunkJSON("How are you today? I am fine.") + "\n\n" +
		"data: [DONE]\n\n"
	if string(body) != wantBody {
		t.Errorf("relayed stream = %q, want it verbatim", body)
	}

	// The presay-only fields must not leak upstream.
	payload := captured.get()
	if _, ok := payload["tts_model"]; ok {
		t.Error("tts_model leaked into the upstream payload")
	}
	if _, ok := payload["tts_enabled"]; ok {
		t.Error("tts_enabled leaked into the upstream payload")
	}

	// Three segments are prefetched in the background.
	waitFor(t, func() bool { return e.cache.Stats().CompletedEntries == 3 },
		"prefetch never completed 3 segments")

	// The audio for a prefetched segment is served from cache: one synthesis
	// total, and the speech request is a hit.
	speech := postJSON(t, e.proxy.URL+"/v1/audio/speech", `{"model":"liang","input":"Hello world."}`)
	if speech.StatusCode != http.StatusOK {
		t.Fatalf("speech status = %d, want 200", speech.StatusCode)
	}
	if ct := speech.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("speech Content-Type = %q, want audio/wav", ct)
	}
	audio, _ := io.ReadAll(speech.Body)
	if string(audio) != "wav(Hello world.)" {
		t.Errorf("audio = %q, want wav(Hello world.)", audio)
	}
	if got := rec.inputCount("Hello world."); got != 1 {
		t.Errorf("synthesis calls for the segment = %d, want 1 (prefetch only)", got)
	}
	if got := e.cache.Stats().HitCount; got != 1 {
		t.Errorf("hit count = %d, want 1", got)
	}
}

func TestChatCompletions_TTSDisabled(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	provider := fakeProvider(t, providerBehavior{streamChunks: []string{"Hello world. "}}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	resp := postJSON(t, e.proxy.URL+"/v1/chat/completions",
		`{"model":"gpt","stream":true,"tts_enabled":false,"messages":[]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	_, _ = io.ReadAll(resp.Body)

	// Give a wrong prefetch a moment to show up.
	time.Sleep(100 * time.Millisecond)
	if got := e.cache.Stats().TotalEntries; got != 0 {
		t.Errorf("cache entries = %d, want 0 with tts_enabled=false", got)
	}
}

func TestChatCompletions_CustomTTSModel(t *testing.T) {
	t.Parallel()

	rec := &ttsRecorder{}
	tts := fakeTTSServer(t, rec, false)
	provider := fakeProvider(t, providerBehavior{streamChunks: []string{"Hello world. "}}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	resp := postJSON(t, e.proxy.URL+"/v1/chat/completions",
		`{"model":"gpt","stream":true,"tts_model":"custom-voice","messages":[]}`)
	_, _ = io.ReadAll(resp.Body)

	waitFor(t, func() bool { return rec.modelCount("custom-voice") == 1 },
		"segment never synthesized with the requested tts_model")
}

func TestChatCompletions_BufferedResponsePrefetches(t *testing.T) {
	t.Parallel()

	rec := &ttsRecorder{}
	tts := fakeTTSServer(t, rec, false)
	provider := fakeProvider(t, providerBehavior{completion: "Hello world. How are you?"}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	resp := postJSON(t, e.proxy.URL+"/v1/chat/completions", `{"model":"gpt","messages":[]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != completionJSON("Hello world. How are you?") {
		t.Errorf("relayed body = %q, want the completion verbatim", body)
	}

	waitFor(t, func() bool { return e.cache.Stats().CompletedEntries == 2 },
		"buffered response never prefetched 2 segments")
	if got := rec.inputCount("Hello world."); got != 1 {
		t.Errorf("synthesis calls for first segment = %d, want 1", got)
	}
}

func TestChatCompletions_UpstreamUnreachable(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	// Nothing listens on this address.
	e := newEnv(t, "http://127.0.0.1:1", []string{tts.URL})

	resp := postJSON(t, e.proxy.URL+"/v1/chat/completions", `{"model":"gpt","messages":[]}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	body := decodeError(t, resp)
	if body.Error.Code != api.CodeInternalError || body.Error.Type != api.TypeServerError {
		t.Errorf("error body = %+v, want internal_error / server_error", body.Error)
	}
}

func TestChatCompletions_UpstreamErrorRelayedVerbatim(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	provider := fakeProvider(t, providerBehavior{
		status:    http.StatusUnauthorized,
		errorBody: `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`,
	}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	resp := postJSON(t, e.proxy.URL+"/v1/chat/completions", `{"model":"gpt","stream":true,"messages":[]}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 passed through", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "bad key") {
		t.Errorf("body = %q, want the provider error verbatim", body)
	}
	if got := e.cache.Stats().TotalEntries; got != 0 {
		t.Errorf("cache entries = %d, want 0 after upstream error", got)
	}
}

func TestChatCompletions_InvalidJSON(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	provider := fakeProvider(t, providerBehavior{}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	resp := postJSON(t, e.proxy.URL+"/v1/chat/completions", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Error.Code != api.CodeInvalidInput {
		t.Errorf("error code = %q, want invalid_input", body.Error.Code)
	}
}

// ── speech ──

func TestSpeech_OnDemandSynthesis(t *testing.T) {
	t.Parallel()

	rec := &ttsRecorder{}
	tts := fakeTTSServer(t, rec, false)
	provider := fakeProvider(t, providerBehavior{}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	resp := postJSON(t, e.proxy.URL+"/v1/audio/speech", `{"model":"liang","input":"Fresh text."}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	audio, _ := io.ReadAll(resp.Body)
	if string(audio) != "wav(Fresh text.)" {
		t.Errorf("audio = %q, want wav(Fresh text.)", audio)
	}

	stats := e.cache.Stats()
	if stats.MissCount != 1 {
		t.Errorf("miss count = %d, want 1", stats.MissCount)
	}
}

func TestSpeech_EmptyInput(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	provider := fakeProvider(t, providerBehavior{}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	resp := postJSON(t, e.proxy.URL+"/v1/audio/speech", `{"model":"liang","input":"   "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Error.Code != api.CodeInvalidInput {
		t.Errorf("error code = %q, want invalid_input", body.Error.Code)
	}
}

func TestSpeech_UnknownModel(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	provider := fakeProvider(t, providerBehavior{}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	// One edit away from the configured model: the message suggests it.
	resp := postJSON(t, e.proxy.URL+"/v1/audio/speech", `{"model":"lian","input":"hello"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeError(t, resp)
	if body.Error.Code != api.CodeModelNotFound {
		t.Errorf("error code = %q, want model_not_found", body.Error.Code)
	}
	if !strings.Contains(body.Error.Message, `Did you mean "liang"?`) {
		t.Errorf("message = %q, want a suggestion for liang", body.Error.Message)
	}

	// Nothing like the configured model: no suggestion.
	resp = postJSON(t, e.proxy.URL+"/v1/audio/speech", `{"model":"totally-different","input":"hello"}`)
	body = decodeError(t, resp)
	if strings.Contains(body.Error.Message, "Did you mean") {
		t.Errorf("message = %q, want no suggestion for a distant name", body.Error.Message)
	}
}

func TestSpeech_GenerationFailure(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, true) // every synthesis attempt fails
	provider := fakeProvider(t, providerBehavior{}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	resp := postJSON(t, e.proxy.URL+"/v1/audio/speech", `{"model":"liang","input":"doomed"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Error.Code != api.CodeGenerationFailed {
		t.Errorf("error code = %q, want generation_failed", body.Error.Code)
	}
}

// ── admin surface ──

func TestModels(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	provider := fakeProvider(t, providerBehavior{}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	var list api.ModelList
	resp := getJSON(t, e.proxy.URL+"/v1/models", &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if list.Object != "list" || len(list.Data) != 1 {
		t.Fatalf("model list = %+v, want one entry", list)
	}
	m := list.Data[0]
	if m.ID != "liang" || m.Object != "model" || m.OwnedBy != "presay" {
		t.Errorf("model = %+v, want id liang owned by presay", m)
	}
	if m.Created <= 0 {
		t.Errorf("created = %d, want a unix timestamp", m.Created)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	provider := fakeProvider(t, providerBehavior{}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	var body struct {
		Status        string         `json:"status"`
		Version       string         `json:"version"`
		CacheStats    cache.Stats    `json:"cache_stats"`
		BalancerStats balancer.Stats `json:"balancer_stats"`
	}
	resp := getJSON(t, e.proxy.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body.Status != "healthy" || body.Version != server.Version {
		t.Errorf("health = %+v, want healthy %s", body, server.Version)
	}
	if len(body.BalancerStats.Endpoints) != 1 {
		t.Errorf("balancer endpoints = %d, want 1", len(body.BalancerStats.Endpoints))
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	provider := fakeProvider(t, providerBehavior{}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	// Populate one entry via the speech endpoint (a miss that generates).
	postJSON(t, e.proxy.URL+"/v1/audio/speech", `{"model":"liang","input":"hello"}`)

	var stats cache.Stats
	getJSON(t, e.proxy.URL+"/cache/stats", &stats)
	if stats.TotalEntries != 1 || stats.MissCount != 1 {
		t.Errorf("stats = %+v, want 1 entry and 1 miss", stats)
	}

	var cleared api.ClearResult
	resp := postJSON(t, e.proxy.URL+"/cache/clear", "")
	if err := json.NewDecoder(resp.Body).Decode(&cleared); err != nil {
		t.Fatalf("decoding clear response: %v", err)
	}
	if cleared.Status != "success" || cleared.Message != "Cache cleared" {
		t.Errorf("clear response = %+v, want success / Cache cleared", cleared)
	}

	getJSON(t, e.proxy.URL+"/cache/stats", &stats)
	if stats.TotalEntries != 0 {
		t.Errorf("entries after clear = %d, want 0", stats.TotalEntries)
	}
	if stats.MissCount != 1 {
		t.Errorf("miss count after clear = %d, want counters preserved", stats.MissCount)
	}
}

func TestRootAndNotFound(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	provider := fakeProvider(t, providerBehavior{}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	var info api.ServiceInfo
	resp := getJSON(t, e.proxy.URL+"/", &info)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("root status = %d, want 200", resp.StatusCode)
	}
	if info.Service != "presay" || info.Version != server.Version {
		t.Errorf("service info = %+v, want presay %s", info, server.Version)
	}

	resp, err := http.Get(e.proxy.URL + "/no/such/route")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeError(t, resp)
	if body.Error.Message != "Not found" || body.Error.Code != api.CodeNotFound || body.Error.Type != api.TypeInvalidRequest {
		t.Errorf("404 body = %+v, want the standard envelope", body.Error)
	}
}

func TestCORS_Preflight(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	provider := fakeProvider(t, providerBehavior{}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	req, _ := http.NewRequest(http.MethodOptions, e.proxy.URL+"/v1/chat/completions", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	tts := fakeTTSServer(t, nil, false)
	provider := fakeProvider(t, providerBehavior{}, nil)
	e := newEnv(t, provider.URL, []string{tts.URL})

	resp, err := http.Get(e.proxy.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		t.Error("metrics exposition is empty")
	}
}
