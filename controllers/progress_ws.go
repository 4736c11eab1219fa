package controller

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"donorflow/services/progress"
)

// HandleProgressWS pushes operation snapshots to the socket until the
// import reaches a terminal status or the client goes away.
func HandleProgressWS(store progress.Store, logger *logrus.Logger) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		id := c.Params("operationId")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// The read loop notices a closed connection
		go func() {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		var lastUpdate time.Time
		_, err := progress.Poll(ctx, store, id, progress.PollOptions{
			Interval:    500 * time.Millisecond,
			MaxAttempts: 7200,
			OnUpdate: func(op *progress.Operation) {
				if op.UpdatedAt.Equal(lastUpdate) && !op.Status.IsTerminal() {
					return
				}
				lastUpdate = op.UpdatedAt
				if err := c.WriteJSON(op); err != nil {
					cancel()
				}
			},
		})

		switch {
		case errors.Is(err, progress.ErrNotFound):
			_ = c.WriteJSON(map[string]string{"error": "operation not found"})
		case errors.Is(err, progress.ErrPollAbandoned):
			_ = c.WriteJSON(map[string]string{"error": err.Error()})
		case err != nil && !errors.Is(err, context.Canceled):
			logger.WithError(err).WithField("operation_id", id).Warn("Progress stream ended")
		}
	}
}
