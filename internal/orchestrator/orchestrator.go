// Package orchestrator relays chat-completion responses to the client while
// tee-ing assistant text into the segment splitter and submitting every
// emitted segment for TTS prefetch.
package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	oai "github.com/openai/openai-go"

	"github.com/MrWong99/presay/internal/observe"
	"github.com/MrWong99/presay/internal/splitter"
)

// Submitter registers text for background synthesis. Implemented by
// [cache.Cache].
type Submitter interface {
	Submit(text, model string) string
}

// Orchestrator pipes provider responses through to the client and turns the
// assistant text into prefetched audio segments on the way.
type Orchestrator struct {
	cache   Submitter
	minLen  int
	maxLen  int
	metrics *observe.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics replaces the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator that splits assistant text into segments of
// minLen..maxLen runes and submits them to cache.
func New(cache Submitter, minLen, maxLen int, opts ...Option) *Orchestrator {
	o := &Orchestrator{cache: cache, minLen: minLen, maxLen: maxLen}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

var (
	dataPrefix  = []byte("data:")
	donePayload = []byte("[DONE]")
)

// StreamChat relays an SSE body to the client line by line, flushing after
// every line, and feeds each assistant text delta through the splitter when
// prefetch is set. It returns the number of segments submitted for
// synthesis.
//
// A client write error stops forwarding and reading, but the text already
// seen is still flushed into the prefetch queue: the client may retry the
// audio it missed.
func (o *Orchestrator) StreamChat(ctx context.Context, w http.ResponseWriter, resp *http.Response, model string, prefetch bool) (int, error) {
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	flusher, canFlush := w.(http.Flusher)

	var sp *splitter.Splitter
	if prefetch {
		sp = splitter.New(o.minLen, o.maxLen)
	}

	reader := bufio.NewReader(resp.Body)
	var (
		submitted int
		retErr    error
	)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			_, writeErr := w.Write(line)
			if writeErr == nil && canFlush {
				flusher.Flush()
			}
			if sp != nil {
				submitted += o.teeLine(ctx, sp, line, model)
			}
			if writeErr != nil {
				retErr = fmt.Errorf("orchestrator: write to client: %w", writeErr)
				break
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				retErr = fmt.Errorf("orchestrator: read upstream stream: %w", readErr)
			}
			break
		}
	}

	if sp != nil {
		submitted += o.submit(ctx, sp.Flush(), model)
	}
	return submitted, retErr
}

// teeLine extracts the assistant text delta from one SSE line and feeds it
// through the splitter. Non-data lines, empty payloads, [DONE], and
// malformed chunk JSON are skipped without disturbing the relay.
func (o *Orchestrator) teeLine(ctx context.Context, sp *splitter.Splitter, line []byte, model string) int {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, dataPrefix) {
		return 0
	}
	payload := bytes.TrimSpace(trimmed[len(dataPrefix):])
	if len(payload) == 0 || bytes.Equal(payload, donePayload) {
		return 0
	}

	var chunk oai.ChatCompletionChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		observe.Logger(ctx).Debug("skipping malformed stream chunk", "error", err)
		return 0
	}
	if len(chunk.Choices) == 0 {
		return 0
	}
	content := chunk.Choices[0].Delta.Content
	if content == "" {
		return 0
	}
	return o.submit(ctx, sp.Feed(content), model)
}

// RelayCompletion forwards a buffered chat completion verbatim and, for
// successful responses with prefetch set, splits the assistant message into
// segments and submits them for synthesis. It returns the number of segments
// submitted.
func (o *Orchestrator) RelayCompletion(ctx context.Context, w http.ResponseWriter, resp *http.Response, model string, prefetch bool) (int, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: read upstream response: %w", err)
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		// Prefetch continues: the client may come back for the audio.
		observe.Logger(ctx).Debug("client write failed", "error", err)
	}

	if !prefetch || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, nil
	}

	var completion oai.ChatCompletion
	if err := json.Unmarshal(body, &completion); err != nil {
		observe.Logger(ctx).Debug("skipping unparseable completion", "error", err)
		return 0, nil
	}
	if len(completion.Choices) == 0 {
		return 0, nil
	}
	content := completion.Choices[0].Message.Content
	if content == "" {
		return 0, nil
	}

	sp := splitter.New(o.minLen, o.maxLen)
	submitted := o.submit(ctx, sp.Feed(content), model)
	submitted += o.submit(ctx, sp.Flush(), model)
	return submitted, nil
}

// submit hands segments to the cache, fire and forget.
func (o *Orchestrator) submit(ctx context.Context, segs []string, model string) int {
	for _, seg := range segs {
		o.cache.Submit(seg, model)
	}
	if len(segs) > 0 {
		o.metrics.SegmentsEmitted.Add(ctx, int64(len(segs)))
	}
	return len(segs)
}

func copyHeader(dst, src http.Header) {
	for k, vals := range src {
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}
