// Package auth provides pluggable authentication for the execution server.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default voter decides
// when all authenticators abstain.
//
// Auth is implemented as HTTP middleware in front of the MCP endpoint. The
// identity it injects decides which agent's sandbox state a request uses.
package auth
