package shared

import (
	"errors"
	"fmt"

	"github.com/orbit-erp/orbit/internal/platform/httpx"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrMissingActor occurs when a request carries no identity.
	ErrMissingActor = fmt.Errorf("actor missing: %w", httpx.ErrUnauthorized)
)
