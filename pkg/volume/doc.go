// Package volume implements the fs.directory resource driver: a local
// directory created by provision, removed by unprovision, and flagged in use
// by start and stop through a marker file under the daemon data directory.
package volume
