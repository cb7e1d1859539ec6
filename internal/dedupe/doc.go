// Package dedupe suppresses duplicate webhook deliveries. The Bot Framework
// retries a POST it believes failed, so the same activity id can arrive more
// than once; processing it twice would double-post replies and double-append
// history.
package dedupe
