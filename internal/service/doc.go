// Package service contains the application-specific use cases and business
// logic. It orchestrates interactions between domain objects and repositories
// (defined in internal/store) to fulfill application features.
//
// The task service is the surface the HTTP layer consumes: it owns request
// validation against the domain rules, the mapping of store errors onto
// service errors, and the dispatch rule that signals ready tasks to workers
// strictly after their rows are persisted. Handlers never touch lifecycle
// logic directly.
//
// Services receive their dependencies through constructor injection as narrow
// interfaces, so the layer depends on domain entities and repository
// interfaces but never on specific infrastructure implementations.
package service
