// Package app is the composition layer of imagebulk.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── server.go           # HTTP server as a lifecycle-managed service
//	├── domain/             # Domain models (pure data structures)
//	│   ├── account/        # Accounts, plans and public profiles
//	│   ├── download/       # Download records, staged images, deliverables
//	│   ├── payment/        # Gateway transactions, orders and receipts
//	│   ├── verification/   # Pending email verification codes
//	│   └── feedback/       # Contact-form submissions
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # AccountStore, DownloadStore, PaymentStore, ...
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   ├── postgres/       # PostgreSQL implementation plus migrations
//	│   └── redisstore/     # Redis-backed verification codes
//	├── services/           # Business logic (one package per service)
//	├── events/             # Post-commit event publishing
//	├── httpapi/            # HTTP routing and handlers
//	├── metrics/            # Prometheus collectors
//	└── system/             # Service lifecycle manager
//
// # Responsibilities
//
// The app package composes services with their stores and upstream clients
// and owns their start/stop order. Business rules live in services/; HTTP
// handling lives in httpapi/.
//
// # Dependency Direction
//
//	cmd/imagebulk/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/httpapi ──► internal/middleware
//	      │
//	      ├──► internal/app/services/* (business logic)
//	      │           │
//	      │           └──► internal/app/storage (interfaces only)
//	      │
//	      └──► internal/app/storage/{memory,postgres,redisstore}
//
// # Example: Adding a New Domain
//
//  1. Create domain models in internal/app/domain/<name>/
//  2. Add a storage interface to internal/app/storage/interfaces.go
//  3. Implement it in internal/app/storage/memory/ and postgres/, with a migration
//  4. Create the service in internal/app/services/<name>/service.go
//  5. Wire the service in internal/app/application.go
//  6. Add handlers and routes in internal/app/httpapi/
package app
