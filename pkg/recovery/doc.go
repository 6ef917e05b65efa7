// Package recovery decides and executes recovery strategies for failing
// modules and keeps the bounded failure event history.
package recovery
