// Package confloader loads layered configuration with koanf.
//
// Sources, lowest priority first: the defaults already present in the
// target struct, a YAML file, then OBJMESH_ environment variables. A
// double underscore separates sections in variable names, so
// OBJMESH_NODE__DEVICE_ID sets node.device_id.
//
// Watcher reports writes to the configuration file so that settings such
// as the log level can be reloaded without a restart.
//
// @design DS-0502
package confloader
