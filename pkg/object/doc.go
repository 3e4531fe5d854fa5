// Package object defines managed object paths, their configuration documents,
// the keyword table validating them, and the template catalogs objects are
// created from.
package object
