// Package shutdown runs cleanup hooks when the process is asked to stop.
//
// Usage:
//
//	h := shutdown.NewHandler(10*time.Second, logger)
//	h.OnShutdown("node", node.Close)
//	err := h.Wait(ctx)
//
// @design DS-0501
package shutdown
