// Package factory provides a generic registry that builds modules from a
// type name and a raw configuration map.
package factory
