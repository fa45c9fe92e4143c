// File: api/shutdown.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "context"

// GracefulShutdown is implemented by components that stop accepting new
// work, wait (bounded) for in-flight work to finish, then release their
// resources.
type GracefulShutdown interface {
	Shutdown(ctx context.Context) error
}
