package routes

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/b-open-io/cellindex/subscriber"
	"github.com/b-open-io/cellindex/types"
	"github.com/b-open-io/cellindex/ulogger"
)

const pingInterval = 15 * time.Second

// SSERoutesConfig holds the configuration for SSE streaming routes
type SSERoutesConfig struct {
	Subscriber *subscriber.Subscriber
	Context    context.Context
	Logger     ulogger.Logger
}

// writeEvent writes one change event as an SSE message. The id is the last
// block the event covers so a reconnecting client resumes right after it.
func writeEvent(w *bufio.Writer, e subscriber.ChangeEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "event: cells\n")
	fmt.Fprintf(w, "data: %s\n", data)
	fmt.Fprintf(w, "id: %s\n\n", e.ToBlock)
	return w.Flush()
}

// resumeFrom returns the block after the Last-Event-ID, or "" when the
// header is absent or not a block number.
func resumeFrom(lastEventID string) string {
	if lastEventID == "" {
		return ""
	}
	n, err := types.ParseUint64(lastEventID)
	if err != nil {
		return ""
	}
	return types.Uint64ToHex(n + 1)
}

// RegisterSSERoutes registers Server-Sent Events streaming routes
func RegisterSSERoutes(group fiber.Router, config *SSERoutesConfig) {
	if config == nil || config.Subscriber == nil || config.Context == nil {
		panic("RegisterSSERoutes: config, subscriber and context are required")
	}
	subs := config.Subscriber
	ctx := config.Context
	logger := config.Logger
	if logger == nil {
		logger = ulogger.New("routes")
	}

	group.Get("/subscribe/:codeHash/:hashType/:args", func(c *fiber.Ctx) error {
		opts, err := ParseLockQuery(c)
		if err != nil {
			return badRequest(c, err)
		}
		if from := resumeFrom(c.Get("Last-Event-ID")); from != "" {
			opts.FromBlock = from
		}

		subCtx, cancel := context.WithCancel(ctx)
		sub, err := subs.Subscribe(subCtx, subscriber.SubscribeOptions{Query: opts})
		if err != nil {
			cancel()
			return badRequest(c, err)
		}
		logger.Infof("SSE subscription %s for %s", sub.ID(), c.Params("args"))

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")
		c.Set("X-Accel-Buffering", "no")
		c.Set("Access-Control-Allow-Origin", "*")

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer cancel()

			fmt.Fprintf(w, "data: subscribed %s\n\n", sub.ID())
			if err := w.Flush(); err != nil {
				return
			}

			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()

			for {
				select {
				case e, ok := <-sub.Events():
					if !ok {
						return
					}
					if err := writeEvent(w, e); err != nil {
						return
					}
				case <-ticker.C:
					fmt.Fprintf(w, ": ping\n\n")
					if err := w.Flush(); err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		})
		return nil
	})
}
