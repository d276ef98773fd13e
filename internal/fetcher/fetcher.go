package fetcher

import "lending-rate-alerts/internal/monitor"

// Compile-time checks that both providers satisfy the core's interface.
var (
	_ monitor.Provider = (*API)(nil)
	_ monitor.Provider = (*OnChain)(nil)
)
