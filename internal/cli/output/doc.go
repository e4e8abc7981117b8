// Package output renders command results as a table, JSON or YAML.
//
// @design DS-0601
package output
