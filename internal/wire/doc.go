// Package wire converts geofence domain values to and from protobuf
// well-known types (structpb). The gRPC API and the region file repository
// share these encodings so a region looks the same on the wire and on disk.
package wire
