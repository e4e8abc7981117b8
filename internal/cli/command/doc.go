// Package command defines the objmesh command line with urfave/cli/v2.
//
//   - root.go: application, global flags, configuration loading
//   - serve.go: long-running device node
//   - object.go: one-shot object operations against the local data dir
//   - config.go: show and validate the effective configuration
//   - version.go: build information
//
// @req RQ-0602
// @design DS-0601
package command
