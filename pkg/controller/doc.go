// Package controller wires the bus, journal, stages, supervisor and
// operator surfaces into one process.
package controller
