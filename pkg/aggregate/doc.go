// Package aggregate rolls stored sensor readings up into one row per UTC
// hour.
//
// A run scans readings in timestamp order, so at most one hour bucket is held
// in memory. Each hour is upserted on its own and retried with exponential
// backoff; a failure is reported per hour and leaves the others intact.
package aggregate
