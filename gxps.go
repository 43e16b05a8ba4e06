// Package gxps is the data model of an XPS spectrum analysis tool: spectra
// with their backgrounds and normalization, fitted peak models, and the
// event bus that tells views what changed.
//
// Domain objects never call their observers. They push events to the
// queues registered on them, usually an EventBus, and the bus decides when
// subscribers see them.
package gxps

// Written into saved projects
const Version = "0.5.0"
