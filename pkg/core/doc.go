// Package core defines the shared language of the LeapTrace system.
//
// This package contains:
//   - Domain entities (Run, StepRun, LineageEntry, Error)
//   - The Audit accumulator returned from every execution
//   - Service interfaces (Store)
//
// The Golden Rule: pkg/core imports ONLY the stdlib.
// All other packages depend on core, not the reverse.
package core
