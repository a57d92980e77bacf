package catalog

// Resolve exposes parameter resolution against a descriptor table.
var Resolve = resolve
