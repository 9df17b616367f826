package wire

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/geofencer/internal/domain/geofence"
)

// Field names used in encoded structs.
const (
	FieldID               = "id"
	FieldLatitude         = "latitude"
	FieldLongitude        = "longitude"
	FieldRadius           = "radius"
	FieldAccuracy         = "accuracy"
	FieldTimestamp        = "timestamp"
	FieldDistance         = "distance"
	FieldProximity        = "proximity"
	FieldBucket           = "bucket"
	FieldMonitoringRadius = "monitoring_radius"
	FieldActive           = "active"
	FieldEvaluatedAt      = "evaluated_at"
	FieldState            = "state"
	FieldGeneration       = "generation"
	FieldRegions          = "regions"
)

var (
	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing field")
	// ErrFieldType is returned when a field has an unexpected kind.
	ErrFieldType = errors.New("unexpected field type")
)

// RegionSpec is the caller-provided part of a region.
type RegionSpec struct {
	// ID is the region identifier; empty means generate one.
	ID string
	// Center is the region center.
	Center geofence.Coordinate
	// Radius is the region radius in meters.
	Radius float64
}

// Region validates the spec and builds a domain region.
func (s RegionSpec) Region() (*geofence.Region, error) {
	return geofence.NewRegion(s.ID, s.Center, s.Radius)
}

// SpecOf returns the caller-provided part of a snapshot.
func SpecOf(s geofence.Snapshot) RegionSpec {
	return RegionSpec{ID: s.ID, Center: s.Center, Radius: s.Radius}
}

// RegionSpecToStruct encodes a region request.
func RegionSpecToStruct(spec RegionSpec) *structpb.Struct {
	return &structpb.Struct{Fields: regionSpecFields(spec)}
}

// RegionSpecFromStruct decodes a region request. The id may be omitted.
func RegionSpecFromStruct(st *structpb.Struct) (RegionSpec, error) {
	var (
		spec RegionSpec
		err  error
	)

	if spec.ID, err = optionalString(st, FieldID); err != nil {
		return RegionSpec{}, err
	}

	if spec.Center.Latitude, err = number(st, FieldLatitude); err != nil {
		return RegionSpec{}, err
	}

	if spec.Center.Longitude, err = number(st, FieldLongitude); err != nil {
		return RegionSpec{}, err
	}

	if spec.Radius, err = number(st, FieldRadius); err != nil {
		return RegionSpec{}, err
	}

	return spec, nil
}

// SnapshotToStruct encodes a region together with its last evaluation.
func SnapshotToStruct(s geofence.Snapshot) *structpb.Struct {
	fields := regionSpecFields(SpecOf(s))

	fields[FieldProximity] = structpb.NewStringValue(s.Classification.Proximity.String())
	fields[FieldActive] = structpb.NewBoolValue(s.Active)

	if s.Classification.Proximity == geofence.ProximityNear {
		fields[FieldBucket] = structpb.NewNumberValue(float64(s.Classification.Bucket))
	}

	if !s.EvaluatedAt.IsZero() {
		fields[FieldDistance] = structpb.NewNumberValue(s.Distance)
		fields[FieldMonitoringRadius] = structpb.NewNumberValue(s.MonitoringRadius)
		fields[FieldEvaluatedAt] = structpb.NewStringValue(s.EvaluatedAt.UTC().Format(time.RFC3339Nano))
	}

	return &structpb.Struct{Fields: fields}
}

// FixToStruct encodes a location fix.
func FixToStruct(fix geofence.Fix) *structpb.Struct {
	fields := map[string]*structpb.Value{
		FieldLatitude:  structpb.NewNumberValue(fix.Coordinate.Latitude),
		FieldLongitude: structpb.NewNumberValue(fix.Coordinate.Longitude),
		FieldAccuracy:  structpb.NewNumberValue(fix.HorizontalAccuracy),
	}

	if !fix.Timestamp.IsZero() {
		fields[FieldTimestamp] = structpb.NewStringValue(fix.Timestamp.UTC().Format(time.RFC3339Nano))
	}

	return &structpb.Struct{Fields: fields}
}

// FixFromStruct decodes and validates a location fix. A missing timestamp
// is left zero for the receiver to stamp.
func FixFromStruct(st *structpb.Struct) (*geofence.Fix, error) {
	var (
		fix geofence.Fix
		err error
	)

	if fix.Coordinate.Latitude, err = number(st, FieldLatitude); err != nil {
		return nil, err
	}

	if fix.Coordinate.Longitude, err = number(st, FieldLongitude); err != nil {
		return nil, err
	}

	if err = fix.Coordinate.Validate(); err != nil {
		return nil, err
	}

	if _, ok := st.GetFields()[FieldAccuracy]; ok {
		if fix.HorizontalAccuracy, err = number(st, FieldAccuracy); err != nil {
			return nil, err
		}
	}

	raw, err := optionalString(st, FieldTimestamp)
	if err != nil {
		return nil, err
	}

	if raw != "" {
		if fix.Timestamp, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", FieldTimestamp, err)
		}
	}

	return &fix, nil
}

// StateToStruct encodes the scheduler state and every region snapshot.
func StateToStruct(state string, generation uint64, regions []geofence.Snapshot) *structpb.Struct {
	values := make([]*structpb.Value, 0, len(regions))
	for _, region := range regions {
		values = append(values, structpb.NewStructValue(SnapshotToStruct(region)))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldState:      structpb.NewStringValue(state),
		FieldGeneration: structpb.NewNumberValue(float64(generation)),
		FieldRegions:    structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// RegionListToStruct encodes region specs for persistence.
func RegionListToStruct(specs []RegionSpec) *structpb.Struct {
	values := make([]*structpb.Value, 0, len(specs))
	for _, spec := range specs {
		values = append(values, structpb.NewStructValue(RegionSpecToStruct(spec)))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldRegions: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// RegionListFromStruct decodes persisted region specs. A missing list is empty.
func RegionListFromStruct(st *structpb.Struct) ([]RegionSpec, error) {
	value, ok := st.GetFields()[FieldRegions]
	if !ok {
		return nil, nil
	}

	list, ok := value.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a list", ErrFieldType, FieldRegions)
	}

	specs := make([]RegionSpec, 0, len(list.ListValue.GetValues()))

	for i, item := range list.ListValue.GetValues() {
		entry, ok := item.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not an object", ErrFieldType, FieldRegions, i)
		}

		spec, err := RegionSpecFromStruct(entry.StructValue)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", FieldRegions, i, err)
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

func regionSpecFields(spec RegionSpec) map[string]*structpb.Value {
	fields := map[string]*structpb.Value{
		FieldLatitude:  structpb.NewNumberValue(spec.Center.Latitude),
		FieldLongitude: structpb.NewNumberValue(spec.Center.Longitude),
		FieldRadius:    structpb.NewNumberValue(spec.Radius),
	}

	if spec.ID != "" {
		fields[FieldID] = structpb.NewStringValue(spec.ID)
	}

	return fields
}

func number(st *structpb.Struct, name string) (float64, error) {
	value, ok := st.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, name)
	}

	n, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a number", ErrFieldType, name)
	}

	if math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
		return 0, fmt.Errorf("%w: %s is not finite", ErrFieldType, name)
	}

	return n.NumberValue, nil
}

func optionalString(st *structpb.Struct, name string) (string, error) {
	value, ok := st.GetFields()[name]
	if !ok {
		return "", nil
	}

	s, ok := value.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a string", ErrFieldType, name)
	}

	return s.StringValue, nil
}
