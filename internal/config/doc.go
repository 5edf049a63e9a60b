// Package config loads the gateway process configuration.
//
// Configuration is read from a YAML file. ${VAR} and ${VAR:-default}
// references are substituted from the environment before parsing and
// $$ produces a literal dollar sign. Missing values are filled from
// DefaultConfig and the result is checked by Validate.
//
// An optional route seed file holds route definitions that are loaded
// into the store at startup. SeedWatcher reloads it on change.
package config
