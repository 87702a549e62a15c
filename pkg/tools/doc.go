// Package tools defines the executor contract tool backends implement and a
// Dispatcher that routes calls to them, enforcing an allow-list.
//
// This package has no external dependencies.
package tools
