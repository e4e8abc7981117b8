// Package objmesh is the entry point of the distributed object store.
//
// A Registry hands out one Store per application bundle. A Store keeps
// the session objects created in this process and returns a Handle per
// session for typed field access, watching and hand-off:
//
//	store, err := registry.Open("demo.app")
//	h, err := store.CreateObject("s1")
//	err = h.Put("name", objmesh.String("zhangsan"))
//	err = h.Save(ctx, "dev2")
//
// @req RQ-0301
// @design DS-0304
package objmesh
