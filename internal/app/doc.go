// Package app wires the distribution components together.
//
// Distributor takes producer updates through ingestion and out to live rooms and
// offline mailboxes. Scheduler drives the periodic health, load-balancing and cleanup jobs.
package app
