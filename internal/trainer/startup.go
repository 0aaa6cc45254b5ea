package trainer

import (
	"context"
	"fmt"
	"io"
)

// CheckReachable reports on w whether the trainer answers its health check.
// An unreachable trainer is not fatal: jobs stay queued in the outbox and
// chat falls back to the rule engine.
func CheckReachable(ctx context.Context, c *Client, w io.Writer) bool {
	if c.IsRunning(ctx) {
		fmt.Fprintf(w, "trainer %s: reachable\n", c.baseURL)
		return true
	}
	fmt.Fprintf(w, "trainer %s: not reachable, training dispatch will retry\n", c.baseURL)
	return false
}
