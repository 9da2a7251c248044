// Package ir provides the canonical value layer used for content hashing.
//
// Values are restricted to null, string, integer, bool, array and object so
// that a given input always serialises to the same bytes. Decimal quantities
// are carried as strings. Serialisation follows RFC 8785 (canonical JSON):
// keys ordered by UTF-16 code units, no HTML escaping, NFC-normalised strings.
//
// ir imports nothing internal; every other package may import it.
package ir
