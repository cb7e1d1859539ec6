// Package tokensvc is the client for the Bot Framework user token service,
// which owns OAuth token caching and expiry for signed-in users.
package tokensvc
