// Package botauth covers both directions of Bot Framework authentication:
// validating the service-to-service JWT on inbound webhook calls, and
// minting service tokens for outbound calls to the connector and token
// service via Azure credentials.
package botauth
