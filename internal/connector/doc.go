// Package connector sends activities back to the channel over the Bot
// Framework connector REST API, including streamed partial replies.
package connector
