// Package cachemgr bridges the asynchronous remote coordination service
// into blocking calls.
//
// Save and RevokeSave issue one request and wait for its completion with a
// bounded timeout, reporting a timeout as ErrTimeout rather than as an
// empty result. Resume and change subscriptions stay asynchronous.
//
// @design DS-0301
package cachemgr
