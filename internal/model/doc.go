// Package model provides the entity and delta types shared by every
// other deltaview package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Records are field maps keyed by "id"; the id is the sole join key
//   - Numbers are decoded as json.Number so large integers survive
//   - Canonical JSON (sorted keys, NFC strings) is the only encoding used
//     for journal payloads and checksums
//   - Logical sequence numbers only, never wall-clock ordering
package model
