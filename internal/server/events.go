package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bl4ck0w1/threatlynx/internal/broadcast"
)

// events streams progress events as Server-Sent Events until the client
// disconnects or the hub closes the observer.
func (s *Server) events(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}

	var obs *broadcast.Observer
	if scanID := c.Query("scan"); scanID != "" {
		obs = s.hub.RegisterScan(scanID)
	} else {
		obs = s.hub.Register()
	}
	defer s.hub.Unregister(obs.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case data, ok := <-obs.Events():
			if !ok {
				return false
			}
			c.SSEvent("progress", string(data))
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
