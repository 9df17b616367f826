// Package proximity partitions geofences by their distance to a location fix.
//
// Classify is a pure function: regions whose edge is reached are Inside,
// regions less than 200 meters away are grouped into 10 meter buckets, and
// everything else is Far. ActiveSet picks the regions worth monitoring
// actively out of a partition.
package proximity
