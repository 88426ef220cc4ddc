// Package sinks implements event consumers: structured logging and
// publishing to a message bus through crawler.Publisher.
package sinks
