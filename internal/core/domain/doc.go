// Package domain defines the core domain models for objmesh.
//
// Domain models are plain values without IO dependencies:
//
//   - Errors: the structured error taxonomy shared by every layer
//   - Watchers: field-change and status callback interfaces
//   - Field keys: the "p_" prefix convention for user fields
//
// @req RQ-0101
// @design DS-0101
package domain
