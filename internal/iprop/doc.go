// Package iprop implements the instrument property pipeline.
//
// An instrument property is a declared parameter (output power, frequency,
// channel enable) with a typed get/set pipeline between the caller and the
// instrument's wire protocol. Every access runs a fixed sequence of phases
// under the driver's operation lock:
//
//	Get: lock → cache check → pre-get → get → post-get → cache store → unlock
//	Set: lock → pre-set → set → post-set → cache store → unlock
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────────┐
//	│                         Property Pipeline                          │
//	│                                                                    │
//	│  ┌──────────────┐   ┌──────────────┐   ┌───────────────────────┐   │
//	│  │   Property   │   │   Coercion   │   │    Range Validators   │   │
//	│  │ (property.go)│──▶│ (coerce.go)  │   │      (range.go)       │   │
//	│  │              │   │              │   │                       │   │
//	│  │ • phases     │   │ • int/float  │   │ • IntRange/FloatRange │   │
//	│  │ • retries    │   │ • mapping    │   │ • unit aware          │   │
//	│  │ • hook table │   │ • register   │   │ • named resolvers     │   │
//	│  └──────────────┘   └──────────────┘   └───────────────────────┘   │
//	│          │                                                         │
//	│          ▼                                                         │
//	│  ┌──────────────┐  Host is implemented by instrument.Driver,       │
//	│  │  Host iface  │  Subsystem and Channel; it supplies the lock,    │
//	│  │  (host.go)   │  the cache, and the transport primitives.        │
//	│  └──────────────┘                                                  │
//	└────────────────────────────────────────────────────────────────────┘
//
// # Hooks
//
// Each phase has a default behaviour that can be replaced per property at
// declaration time (Config.Hooks) or per host instance at runtime (the host's
// patch table, consulted first). An override takes full responsibility for
// the phase, including validation and cache consistency.
//
// # Errors
//
// Failures surface as one of the sentinel errors in errors.go, checked with
// errors.Is. No partial state is cached on failure.
package iprop
