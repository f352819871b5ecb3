// Package config loads and validates application settings from environment
// variables (CONJURE_ prefix) and an optional config.yaml. All three
// processes - server, scheduler, and worker - share the same Config so a
// single environment configures the whole deployment.
package config
