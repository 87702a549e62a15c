// Package sandbox is the client side of the remote runtime sandbox REST
// service. Client binds every endpoint of the service; Session owns one
// remote session identifier and scopes command execution and file access
// to it.
//
// A Session is not safe for concurrent Open/Close calls. Callers that share
// one (the execution state does) serialize access themselves.
package sandbox
