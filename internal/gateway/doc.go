// ABOUTME: Package doc for the HTTP gateway
// ABOUTME: REST API plus SSE event streaming with JWT-scoped channel access

// Package gateway exposes the conversation service over HTTP.
//
// All /api routes require a bearer token. The REST surface covers the
// conversation lifecycle (create, list, fetch, message, escalate,
// de-escalate, accept, release, close) and /api/events streams hub
// broadcasts as Server-Sent Events, restricted to the channels the
// authenticated identity is entitled to.
package gateway
