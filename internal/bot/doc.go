// Package bot is the AI streaming relay.
//
// It consumes the message store, opens a token stream against the upstream
// generator, relays each delta through the broadcast hub as message:stream
// events, and collapses the stream into one persisted bot message announced
// via message:new. An upstream failure degrades to a persisted apology and
// never fails the user message append that triggered the run.
//
// The production Generator speaks the OpenAI Chat Completions API, pointed
// at OpenRouter by default; tests substitute an in-memory stream source.
package bot
