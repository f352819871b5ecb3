// Package domain contains the core business entities and domain logic of
// the application: the Task entity, its lifecycle state machine, and the
// validation rules that guard it. It is independent of any specific
// infrastructure or delivery mechanism.
package domain
