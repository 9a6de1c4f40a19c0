package zarrpeek

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"
)

// DataType is the closed set of sample types zarrpeek can display. Samples
// of every type are converted to float32 when copied into a Plane; the
// display pipeline never sees raw integer widths.
type DataType uint8

const (
	DataTypeUnknown DataType = iota
	DataTypeInt8
	DataTypeUint8
	DataTypeInt16
	DataTypeUint16
	DataTypeInt32
	DataTypeUint32
	DataTypeInt64
	DataTypeUint64
	DataTypeFloat16
	DataTypeFloat32
	DataTypeFloat64
)

// The size of one sample of this type in bytes.
func (d DataType) Size() int {
	switch d {
	case DataTypeInt8, DataTypeUint8:
		return 1
	case DataTypeInt16, DataTypeUint16, DataTypeFloat16:
		return 2
	case DataTypeInt32, DataTypeUint32, DataTypeFloat32:
		return 4
	case DataTypeInt64, DataTypeUint64, DataTypeFloat64:
		return 8
	default:
		return 0
	}
}

func (d DataType) String() string {
	switch d {
	case DataTypeInt8:
		return "int8"
	case DataTypeUint8:
		return "uint8"
	case DataTypeInt16:
		return "int16"
	case DataTypeUint16:
		return "uint16"
	case DataTypeInt32:
		return "int32"
	case DataTypeUint32:
		return "uint32"
	case DataTypeInt64:
		return "int64"
	case DataTypeUint64:
		return "uint64"
	case DataTypeFloat16:
		return "float16"
	case DataTypeFloat32:
		return "float32"
	case DataTypeFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// Sample reads one sample of this type from the start of raw and converts it
// to a float32 display value. raw must hold at least Size() bytes.
func (d DataType) Sample(raw []byte, o binary.ByteOrder) float32 {
	switch d {
	case DataTypeInt8:
		return float32(int8(raw[0]))
	case DataTypeUint8:
		return float32(raw[0])
	case DataTypeInt16:
		return float32(int16(o.Uint16(raw)))
	case DataTypeUint16:
		return float32(o.Uint16(raw))
	case DataTypeInt32:
		return float32(int32(o.Uint32(raw)))
	case DataTypeUint32:
		return float32(o.Uint32(raw))
	case DataTypeInt64:
		return float32(int64(o.Uint64(raw)))
	case DataTypeUint64:
		return float32(o.Uint64(raw))
	case DataTypeFloat16:
		return float16.Frombits(o.Uint16(raw)).Float32()
	case DataTypeFloat32:
		return math.Float32frombits(o.Uint32(raw))
	case DataTypeFloat64:
		return float32(math.Float64frombits(o.Uint64(raw)))
	default:
		panic("zarrpeek: sample read on unknown data type")
	}
}

// ParseTypestr parses a NumPy array-protocol type string as used by zarr v2
// metadata, e.g. "<u2" or ">f4". The byte order character is mandatory; "|"
// is only valid for single-byte types.
func ParseTypestr(s string) (DataType, binary.ByteOrder, error) {
	if len(s) < 3 {
		return DataTypeUnknown, nil, metadataErrf("", "dtype %q is too short", s)
	}

	var order binary.ByteOrder
	switch s[0] {
	case '<', '|':
		order = binary.LittleEndian
	case '>':
		order = binary.BigEndian
	default:
		return DataTypeUnknown, nil, metadataErrf("", "dtype %q has unsupported byte order %q", s, s[0])
	}

	dt := DataTypeUnknown
	switch s[1:] {
	case "i1":
		dt = DataTypeInt8
	case "u1":
		dt = DataTypeUint8
	case "i2":
		dt = DataTypeInt16
	case "u2":
		dt = DataTypeUint16
	case "i4":
		dt = DataTypeInt32
	case "u4":
		dt = DataTypeUint32
	case "i8":
		dt = DataTypeInt64
	case "u8":
		dt = DataTypeUint64
	case "f2":
		dt = DataTypeFloat16
	case "f4":
		dt = DataTypeFloat32
	case "f8":
		dt = DataTypeFloat64
	default:
		return DataTypeUnknown, nil, metadataErrf("", "unsupported dtype %q", s)
	}

	if s[0] == '|' && dt.Size() != 1 {
		return DataTypeUnknown, nil, metadataErrf("", "dtype %q: byte order required for multi-byte types", s)
	}
	return dt, order, nil
}

// ParseDataTypeName parses a zarr v3 data_type name, e.g. "uint16". Zarr v3
// stores all samples little-endian unless a codec says otherwise; the
// returned order reflects that default.
func ParseDataTypeName(s string) (DataType, binary.ByteOrder, error) {
	names := map[string]DataType{
		"int8":    DataTypeInt8,
		"uint8":   DataTypeUint8,
		"int16":   DataTypeInt16,
		"uint16":  DataTypeUint16,
		"int32":   DataTypeInt32,
		"uint32":  DataTypeUint32,
		"int64":   DataTypeInt64,
		"uint64":  DataTypeUint64,
		"float16": DataTypeFloat16,
		"float32": DataTypeFloat32,
		"float64": DataTypeFloat64,
	}
	dt, ok := names[s]
	if !ok {
		return DataTypeUnknown, nil, metadataErrf("", "unsupported data_type %q", s)
	}
	return dt, binary.LittleEndian, nil
}
