// Package config loads the controller YAML configuration and watches it for
// live changes.
package config
