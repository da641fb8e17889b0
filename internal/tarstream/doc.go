// Package tarstream reads gzip-compressed tar archives as a lazy,
// single-pass sequence of entries.
//
// All entries share one underlying transport stream, so an entry's
// content must be fully read or drained before the next entry can be
// produced. Next enforces this by draining whatever remains of the
// current entry, and an entry's content reader is invalidated the
// moment the reader moves on, so a stale handle fails loudly instead of
// corrupting subsequent entries.
//
// An optional leading-byte skip supports artifacts that prepend
// non-archive data before the gzip container.
package tarstream
