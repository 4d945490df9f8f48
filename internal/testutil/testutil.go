// Package testutil provides test helpers for mailvault tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - store_helpers.go: database test setup (NewTestStore)
//   - builders.go: test data builders (raw RFC 822 messages, store rows)
package testutil
