package cart

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// touch marks the cart dirty and restarts the debounce timer.
func (c *Cart) touch() {
	c.mu.Lock()
	if c.snap == nil {
		c.mu.Unlock()
		return
	}
	c.dirty = true
	if c.debounce <= 0 {
		c.mu.Unlock()
		c.Flush()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.Flush)
	c.mu.Unlock()
}

// Flush writes a pending snapshot immediately. Snapshot failures are logged;
// the cart is a convenience copy, not financial state.
func (c *Cart) Flush() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if !c.dirty || c.snap == nil {
		c.mu.Unlock()
		return
	}
	c.dirty = false
	items := cloneItems(c.items)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := c.snap.SaveCartSnapshot(ctx, items); err != nil {
		c.logger.Warn("failed to snapshot cart", zap.Int("lines", len(items)), zap.Error(err))
	}
}

// Close flushes any pending snapshot.
func (c *Cart) Close() {
	c.Flush()
}
