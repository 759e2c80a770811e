// Package boostengine is the savings-incentives boost engine: it evaluates
// behavioral events against boost status conditions, orchestrates the funds
// transfers behind redemptions and revocations, and records every status
// change durably before any notification leaves the process.
package boostengine
