package handlers

import (
	"github.com/dvloznov/walletsync/internal/logger"
	"github.com/dvloznov/walletsync/internal/store"
	"github.com/gin-gonic/gin"
)

// EventsHandler streams store snapshots as server-sent events.
type EventsHandler struct {
	entities EntityReader
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(entities EntityReader) *EventsHandler {
	return &EventsHandler{entities: entities}
}

// Stream handles GET /api/events. The current accounts and transactions
// are sent first, then one event per store change.
func (h *EventsHandler) Stream(c *gin.Context) {
	events, cancel := h.entities.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	h.send(c, store.Event{Kind: store.AccountsChanged, Accounts: h.entities.Accounts()})
	h.send(c, store.Event{Kind: store.TransactionsChanged, Transactions: h.entities.Transactions()})

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.send(c, ev)
		case <-ctx.Done():
			log := logger.FromContext(ctx)
			log.Debug().Msg("Event stream client disconnected")
			return
		}
	}
}

func (h *EventsHandler) send(c *gin.Context, ev store.Event) {
	switch ev.Kind {
	case store.AccountsChanged:
		c.SSEvent(string(ev.Kind), ev.Accounts)
	case store.TransactionsChanged:
		c.SSEvent(string(ev.Kind), ev.Transactions)
	}
	c.Writer.Flush()
}
