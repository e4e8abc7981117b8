// Package config defines the objmesh node configuration.
//
// NodeConfig is loaded by confloader from defaults, a YAML file and
// OBJMESH_ environment variables, then checked with Verify before the node
// is built.
//
// @design DS-0502
package config
