// Package props provides the typed property values carried by style updates.
//
// A style update is a Map from property name to Value. Values form a sealed
// tagged union: Number, String, Bool, List and Transform. Loosely-typed
// payloads (JSON, YAML, CUE) are converted at the boundary and never travel
// through the scheduler as interface{} soup.
//
// Key design constraints:
//   - Maps are immutable once constructed; Set and Merge return new maps
//   - Merge is shallow: new keys append, existing keys overwrite, absent keys persist
//   - Property names are NFC-normalised on construction
//   - Iteration follows insertion order; MarshalCanonical sorts keys for hashing and traces
//
// This package imports nothing internal.
package props
