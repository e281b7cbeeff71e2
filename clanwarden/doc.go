// Package clanwarden implements a Discord community-management bot for an
// OSRS clan server.
//
// The bot ingests gateway events (messages, reactions, membership changes),
// applies the clan's business rules - drop-submission points accounting,
// rank promotion checks, application-channel provisioning - and writes the
// results back as outbound messages and persisted user records.
//
// Daily reporting jobs snapshot the current guild membership, derive
// target ranks from tenure or points, and post diff-style reports to the
// configured reporting channel. Reporting is best-effort: delivery failures
// are logged and dropped, never retried.
package clanwarden
