// Package infra contains technical adapters: the HTTP and MQTT publish
// transports, metrics exporters and the Sentry monitor. These packages
// should depend only on the interfaces defined in the core packages.
package infra
