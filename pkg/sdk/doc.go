// Package sdk provides a typed Go client for the testdeck coordinator.
//
// The client wraps a WebSocket connection with one method per protocol
// command, automatic heartbeats, and dial retry via fortify.
//
// Usage:
//
//	c, _ := sdk.Dial(ctx, "ws://coordinator:8443/ws", "alice")
//	defer c.Close()
//
//	_ = c.Join(ctx, "rel-2026-08")
//	assignment, _ := c.RequestWork(ctx, "rel-2026-08")
//	if assignment != nil {
//		_ = c.UpdateStep(ctx, assignment.AttemptID, "s1", "PASS", "")
//		_ = c.SubmitResult(ctx, assignment.AttemptID, "PASS", "", nil)
//	}
package sdk
