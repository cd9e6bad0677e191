// Package mapper converts between typed CRM records and the
// string-keyed field maps stored as remote documents.
//
// # Decoding discipline
//
// Remote documents are loosely typed, so every decoder is total: a
// missing field yields its documented default (empty string, zero,
// false or an empty collection), a malformed field yields the default
// plus a FieldWarning, and only an unusable document identity is a hard
// error. Decoding never panics and never fails a whole record because
// of one bad field.
//
// # Encoding discipline
//
// Encoders are lossless over the sync-relevant fields: decoding an
// encoded record restores the record exactly (modulo LastSyncedAt,
// which is local-only and never leaves the device). Timestamps marshal
// through the fixed-width format of the model package, enums marshal to
// their symbolic names, label lists to string arrays and metadata to a
// nested string map.
package mapper
