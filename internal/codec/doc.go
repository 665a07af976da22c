// Package codec converts between value.Value and protobuf wire bytes using
// only runtime descriptors.
//
// Encoding matches map keys to fields by proto name, then by JSON name.
// Unknown keys and Null entries are skipped. Integer fields take Int values
// within range (64-bit kinds also accept decimal strings), float fields take
// Float or Int, enum fields take a label or a known number, bytes fields take
// Bytes or base64 text. Setting more than one member of a oneof is an error.
//
// Decoding emits fields in descriptor order using proto names. Enum values
// decode to labels and uint64 values above MaxInt64 decode to decimal strings.
package codec
