// Package gateway mediates every tool invocation on the way from the
// conversation runner to internal/tool.Registry: it classifies a tool call
// into a permission key and human description, asks a Confirmer (such as
// permission.Engine) to approve that key, and — for tools that themselves refuse with a
// requires_confirmation marker — runs a bounded confirm-and-retry loop so a
// tool can gate on more than one sub-permission without the caller knowing
// about it up front.
package gateway
