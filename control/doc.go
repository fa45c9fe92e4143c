// File: control/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package control carries the operational surface of the server:
// configuration loading, logger construction, and Prometheus metrics.
package control
