// Package config loads the server's key=value configuration file into a
// Config struct, applying the defaults documented in spec.md §6.
//
// Parsing the config file's textual format is explicitly out of scope per
// spec.md §1 ("configuration file lexing" is listed among the external
// collaborators) — this package is deliberately a thin line-oriented
// scanner, not a validating grammar, matching the narrow external-contract
// treatment the spec gives it.
package config
