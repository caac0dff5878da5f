// Package core defines the shared contracts and data model of the turn
// orchestration engine: the TurnContext carried through one pipeline run,
// the Stage capability every pipeline unit implements, the stage error
// taxonomy, client-facing frames, and the collaborator interfaces
// (redaction, matching, specialists, stores).
//
// Implementations live in sibling packages; core stays free of external
// service dependencies so that any package can depend on it without cycles.
package core
