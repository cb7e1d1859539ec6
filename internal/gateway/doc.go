// Package gateway assembles the Teams gateway and serves its HTTP surface:
// the authenticated Bot Framework webhook at /api/messages and a health
// probe. Listeners come from plain TCP or an embedded Tailscale node with
// Funnel for a public HTTPS endpoint.
package gateway
