// Package identity defines the canonical people, observed tool identities,
// person-identity links, audit events, and sync watermarks that the rest of
// roster operates on.
//
// It also owns the error taxonomy shared by the store, the matching driver,
// and the CLI, plus the CSV rendering used for conflict exports. The package
// has no storage or I/O dependencies beyond io.Writer so every other layer can
// import it freely.
package identity
