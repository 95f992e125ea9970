//go:build !(linux && amd64)

package tracer

import "context"

// Run is unavailable off linux/amd64: the engine needs ptrace and the x86
// syscall tables.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	c.setStatus(Aborted)
	return nil, ErrUnsupportedPlatform
}
