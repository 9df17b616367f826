// Package regions persists registered geofence regions.
//
// The FileRepository stores the caller-provided part of every region (id,
// center and radius) as protobuf JSON on disk so the registry can be seeded
// again after a restart. Runtime evaluation state is never persisted.
package regions
