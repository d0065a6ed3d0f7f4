// Package app composes the service-plugin host into a running application.
//
// # Architecture Role
//
// The app package sits above the core layers (plugin runtime, storage,
// middleware) and wires them together. It is NOT a business logic layer;
// business logic belongs in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── evelogin/       # ESI login profiles and tokens
//	│   ├── player/         # Players, characters, groups
//	│   └── service/        # Service records and configuration merge
//	├── services/           # Business logic
//	│   ├── accounts/       # Deactivation policy, token state updater
//	│   ├── registration/   # Plugin resolution, group gate, account sync
//	│   ├── serviceadmin/   # Service administration
//	│   └── logins/         # Login profile management
//	├── storage/            # Store interfaces, memory and postgres backends
//	├── httpapi/            # HTTP handlers and routing
//	└── system/             # Lifecycle manager
//
// # Responsibilities
//
//   - Composing services with their stores, the plugin registry, and the
//     session resolver
//   - Seeding the internal login profiles on startup
//   - Exposing the HTTP API
//   - Managing startup and shutdown order through the system manager
//
// Storage interfaces live in internal/app/storage; services depend on the
// interfaces, never on a concrete backend. The memory backend serves tests
// and development, postgres serves production.
package app
