// Package drivers holds the built-in resource drivers that need no external
// service: app.simple, ip.probe and sync.noop, and registers them along with
// fs.directory and container.containerd.
package drivers
