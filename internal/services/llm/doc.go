// Package llm provides an OpenRouter-compatible chat client used by the
// translation and summarization stages.
//
// Translate returns the transcript text rendered into a target language.
// Summarize asks for a JSON object with a summary and keywords and tolerates
// code fences and stray prose around the payload.
//
// Requests retry on HTTP 408/429/5xx, network timeouts and empty completions
// with exponential backoff. A Retry-After header overrides the backoff.
// Context cancellation aborts immediately.
package llm
