// Package state provides filesystem-backed storage for the development
// message-store service.
package state

import "github.com/user/mirrorchat/internal/types"

// Compile-time interface compliance checks.
var _ types.MessageStore = (*MessageLog)(nil)
