// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

/*
Package supervisor provides process supervision for Merchdash using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of all long-running services in the application. It provides
Erlang/OTP-style supervision with automatic restart, failure isolation,
and graceful shutdown.

The tree organizes services into two layers for failure isolation:

	RootSupervisor ("merchdash")
	├── SyncSupervisor ("sync-layer")
	│   └── SyncManagerService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

This hierarchy ensures that a crash in the mirror sweep does not affect
the API layer's ability to serve the already-mirrored catalog, and that
each layer restarts independently with exponential backoff.

Supervisor events are logged through sutureslog so restarts and failures
appear in the structured log stream alongside application output.
*/
package supervisor
