// Package tests holds multi-device integration tests.
//
// @design DS-0401
package tests
