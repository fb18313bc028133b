package circuitbreaker

import "errors"

// ErrCircuitOpen is returned when the circuit breaker rejects a request
// without attempting the upstream call.
var ErrCircuitOpen = errors.New("circuit breaker is open")
