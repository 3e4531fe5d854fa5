// Package resource defines the contract between the orchestrator and the
// resource drivers, and the registry mapping a (family, type) pair to a
// driver constructor.
//
// A driver implements Driver. Drivers owning an underlying object also
// implement Provisioner, drivers able to undo a partial action implement
// Rollbacker. Actions a driver does not handle return ErrNotSupported or
// ErrNotApplicable, which the orchestrator treats as no-ops.
package resource
