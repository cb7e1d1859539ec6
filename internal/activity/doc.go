// Package activity models the Bot Framework activity protocol subset the
// gateway needs: message, invoke, and conversationUpdate activities, OAuth
// cards, and the sign-in invoke payloads.
package activity
