// Package service provides the object store session layer.
//
// ObjectService turns a session id into a table in the storage engine,
// reads and writes typed fields through the field codec, and orchestrates
// hand-off through the cache manager: Save and RevokeSave block on the
// remote service, while the resume and change subscription started by
// CreateObject run in the background for as long as the object exists.
//
// @req RQ-0301
// @design DS-0302
package service
