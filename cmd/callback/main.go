// Command callback is the per-request sidecar that sits between a client
// and an upstream LLM provider: it relays the upstream's streaming response
// through the control plane via internal/orchestrator, re-emitting
// client-facing SSE in the upstream's own wire format (§6.3). Grounded on
// the teacher's cmd/server/main.go graceful-shutdown skeleton for overall
// process shape; the proxying logic itself has no teacher analogue since
// the teacher's reverse proxy (cmd/server/main.go's proxyHandler) forwards
// bytes opaquely rather than decoding/re-encoding a canonical chunk stream.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/luthienresearch/luthien-proxy/internal/config"
	"github.com/luthienresearch/luthien-proxy/internal/controlconn"
	"github.com/luthienresearch/luthien-proxy/internal/ids"
	"github.com/luthienresearch/luthien-proxy/internal/logger"
	"github.com/luthienresearch/luthien-proxy/internal/orchestrator"
	"github.com/luthienresearch/luthien-proxy/internal/streamblock"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	gin.SetMode(cfg.GinMode)

	manager := controlconn.NewManager(&controlconn.WSDialer{
		BaseURL:          cfg.ControlPlaneURL,
		HandshakeTimeout: cfg.ControlPlaneHTTPTimeout,
		Token:            cfg.ServiceAuthToken,
	}, cfg.ConnectionIdleSweepInterval, log)
	defer manager.Shutdown()

	orch := orchestrator.New(manager, orchestrator.Config{
		ChunkTimeout:  cfg.ControlPlaneChunkTimeout,
		StreamTimeout: cfg.ControlPlaneStreamTimeout,
	}, log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/v1/chat/completions", newChatHandler(orch, log))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Info("callback sidecar listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down callback sidecar")
	_ = srv.Shutdown(context.Background())
}

// providerAnthropic/providerOpenAI select which upstream wire format and
// which egress renderer a call uses. X-Upstream-Provider defaults to
// providerOpenAI when absent, matching the wire's pre-existing behavior.
const (
	providerAnthropic = "anthropic"
	providerOpenAI    = "openai"
)

func newChatHandler(orch *orchestrator.Orchestrator, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var reqBody map[string]any
		if err := c.ShouldBindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		upstreamURL := c.GetHeader("X-Upstream-URL")
		if upstreamURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "X-Upstream-URL header is required"})
			return
		}

		provider := c.GetHeader("X-Upstream-Provider")
		if provider != providerAnthropic {
			provider = providerOpenAI
		}
		// Tag the request so the control plane's StreamDispatcher.Start (fed
		// the START envelope's payload) can pick the matching block
		// assembler without a second header round-trip.
		reqBody["provider"] = provider

		var iter orchestrator.UpstreamIterator
		var err error
		switch provider {
		case providerAnthropic:
			iter, err = dialAnthropicUpstream(c.Request.Context(), upstreamURL, c.GetHeader("Authorization"), reqBody)
		default:
			iter, err = dialUpstream(c.Request.Context(), upstreamURL, c.GetHeader("Authorization"), reqBody)
		}
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		callID := ids.New()
		results := orch.Run(c.Request.Context(), callID, iter, reqBody)

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.WriteHeader(http.StatusOK)

		switch provider {
		case providerAnthropic:
			writeAnthropicSSE(c, results, callID, log)
		default:
			writeOpenAISSE(c, results, callID, log)
		}
	}
}

func writeOpenAISSE(c *gin.Context, results <-chan orchestrator.Result, callID string, log *logger.Logger) {
	for res := range results {
		if res.Done {
			if res.Err != nil {
				log.Warn("stream ended with error", slog.String("call_id", callID), slog.Any("error", res.Err))
			}
			break
		}
		var chunk streamblock.Chunk
		if err := decodeMap(res.Chunk, &chunk); err != nil {
			continue
		}
		frame, err := streamblock.EncodeOpenAIChunk(&chunk)
		if err != nil {
			continue
		}
		c.Writer.Write(frame)
		c.Writer.Flush()
	}
	c.Writer.Write([]byte(streamblock.OpenAIDoneFrame))
	c.Writer.Flush()
}

// writeAnthropicSSE re-emits an Anthropic-format stream. The dispatcher only
// attaches "_anthropic_events" to a result once one or more blocks have
// closed (spec.md §6.3's "single terminal chunk" rule); chunks carrying
// nothing yet to render are simply skipped. Anthropic's own wire protocol
// has no sentinel frame equivalent to OpenAI's [DONE] — clients detect the
// end of the stream from the connection closing.
func writeAnthropicSSE(c *gin.Context, results <-chan orchestrator.Result, callID string, log *logger.Logger) {
	for res := range results {
		if res.Done {
			if res.Err != nil {
				log.Warn("stream ended with error", slog.String("call_id", callID), slog.Any("error", res.Err))
			}
			break
		}
		raw, ok := res.Chunk["_anthropic_events"]
		if !ok {
			continue
		}
		var events []streamblock.AnthropicEvent
		if err := decodeMap(raw, &events); err != nil {
			continue
		}
		for _, ev := range events {
			frame, err := streamblock.EncodeAnthropicEvent(ev)
			if err != nil {
				continue
			}
			c.Writer.Write(frame)
		}
		c.Writer.Flush()
	}
}

// sseUpstreamIterator adapts an upstream OpenAI-compatible SSE response body
// into orchestrator.UpstreamIterator, decoding one "data: {...}" frame per
// Next call.
type sseUpstreamIterator struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func dialUpstream(ctx context.Context, url, authHeader string, reqBody map[string]any) (*sseUpstreamIterator, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	return &sseUpstreamIterator{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

func (it *sseUpstreamIterator) Next(ctx context.Context) (orchestrator.Chunk, bool, error) {
	for {
		line, err := it.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil, false, nil
			}
			return nil, false, err
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil, false, nil
		}
		var chunk orchestrator.Chunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		return chunk, true, nil
	}
}

func (it *sseUpstreamIterator) Close() error {
	return it.body.Close()
}

// anthropicUpstreamIterator adapts an upstream Anthropic Messages-API SSE
// response body into orchestrator.UpstreamIterator. Each raw event is fed
// through an IngressAssembler to produce the canonical chunk carried as the
// wire payload, with the raw event attached under "_anthropic_event" so the
// control plane's BlockAssembler can recover the content_block_stop/
// signature boundaries the canonical encoding alone can't represent.
type anthropicUpstreamIterator struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	ingress *streamblock.IngressAssembler
}

func dialAnthropicUpstream(ctx context.Context, url, authHeader string, reqBody map[string]any) (*anthropicUpstreamIterator, error) {
	reqBody["stream"] = true
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("anthropic-version", "2023-06-01")
	if authHeader != "" {
		req.Header.Set("x-api-key", strings.TrimPrefix(authHeader, "Bearer "))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	return &anthropicUpstreamIterator{
		body:    resp.Body,
		reader:  bufio.NewReader(resp.Body),
		ingress: streamblock.NewIngressAssembler(),
	}, nil
}

func (it *anthropicUpstreamIterator) Next(ctx context.Context) (orchestrator.Chunk, bool, error) {
	for {
		_, data, ok, err := it.readFrame()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		if data == "" {
			continue
		}

		var ev streamblock.AnthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		chunk, ok := it.ingress.Ingest(ev)
		if !ok {
			continue
		}

		out, err := toMap(chunk)
		if err != nil {
			continue
		}
		out["_anthropic_event"] = ev
		return out, true, nil
	}
}

// readFrame reads one "event: <type>\ndata: <json>\n\n" frame, accumulating
// multiple data lines per the SSE spec (Anthropic never sends more than
// one, but nothing relies on that). ok is false only on clean EOF with no
// partially-read frame pending.
func (it *anthropicUpstreamIterator) readFrame() (eventType, data string, ok bool, err error) {
	for {
		line, readErr := it.reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(trimmed, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
		case strings.HasPrefix(trimmed, "data:"):
			chunk := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
			if data != "" {
				data += "\n"
			}
			data += chunk
		case trimmed == "":
			if eventType != "" || data != "" {
				return eventType, data, true, nil
			}
			// blank keep-alive line between frames: keep reading unless EOF
		}

		if readErr != nil {
			if readErr == io.EOF {
				if eventType != "" || data != "" {
					return eventType, data, true, nil
				}
				return "", "", false, nil
			}
			return "", "", false, readErr
		}
	}
}

func (it *anthropicUpstreamIterator) Close() error {
	return it.body.Close()
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeMap(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
