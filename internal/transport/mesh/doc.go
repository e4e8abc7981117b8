// Package mesh connects devices over a hashicorp/memberlist gossip mesh.
//
// Each device is a memberlist node named by its device id. Node metadata
// lists the apps the device hosts, so membership changes translate into
// per-app online/offline transitions. Table pulls travel as protobuf wire
// frames over memberlist's reliable (TCP) user messages.
//
// Transport implements substrate.Transport.
//
// @design DS-0402
package mesh
