// Package gps reads NMEA 0183 text from a GNSS receiver and turns RMC
// sentences into position fixes.
//
// It is intentionally small:
// - Parse RMC for UTC time/date, lat/lon and ground speed
// - Feed every valid fix, in receipt order, to a single handler
// - Provide a snapshot of receiver health for the status page
package gps
