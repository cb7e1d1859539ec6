// Package bot implements the turn handler for the Teams gateway: it gates
// inbound messages on the tenant allowlist, drives the SSO sign-in handshake,
// and relays authenticated messages to the configured assistant backend.
package bot
