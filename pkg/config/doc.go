// Package config enumerates the process-global configuration, populated once
// from the environment at start.
package config
