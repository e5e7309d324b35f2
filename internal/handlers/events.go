// internal/handlers/events.go
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/handoff-backend/internal/events"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

const streamKeepAlive = 25 * time.Second

// EventsHandler streams an order's domain events to its parties as
// server-sent events.
type EventsHandler struct {
	bus          *events.Bus
	orderService *services.OrderService
}

func NewEventsHandler(bus *events.Bus, orderService *services.OrderService) *EventsHandler {
	return &EventsHandler{
		bus:          bus,
		orderService: orderService,
	}
}

// GET /orders/:id/events
func (h *EventsHandler) StreamOrderEvents(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.Get(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !utils.IsAdmin(c) && !services.IsParty(order, userID) {
		respondError(c, services.ErrNotOrderParty)
		return
	}

	ch, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	// Streams outlive the server write timeout. Where the writer does not
	// support deadlines the client reconnects after the timeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	// Current status first, so a client never misses the state it joined in.
	c.SSEvent("order.status", gin.H{"order_id": order.ID, "status": order.Status})
	c.Writer.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			if event.OrderID != order.ID {
				continue
			}
			c.SSEvent(string(event.Type), event)
			c.Writer.Flush()
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}
