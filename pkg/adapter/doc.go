// Package adapter defines the boundary between the control stages and a
// robot backend, plus an in-memory simulated arm used for development and
// tests.
package adapter
