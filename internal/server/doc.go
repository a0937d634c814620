// Package server runs taskbot as a long-lived process.
//
// A Server opens the SQLite store, builds the conversation engine and its
// worker pool, and starts one adapter per enabled chat frontend. Alongside
// the bot it serves:
//
//   - GET /health and GET /health/ready for probes
//   - GET /api/conversations[/{id}[/events]] for operators, behind a bearer
//     JWT when auth.jwt_secret is set
//   - the standard grpc.health.v1.Health service on server.grpc_addr
//
// With tailscale.enabled the listeners move onto a tsnet node instead of
// local TCP ports.
package server
