// Package main provides the entry point for objmesh.
//
// objmesh runs a device node that keeps session objects in sync with the
// user's other devices, and offers one-shot commands against the local
// data directory:
//
//	objmesh serve --watch s1
//	objmesh --bundle demo.app object put s1 title draft
//	objmesh -o json object dump s1
//	objmesh object save s1 tablet
//
// @design DS-0601
package main
