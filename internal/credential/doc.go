// Package credential holds the credential registry: plates, faces and tags,
// the users who own them, and the access groups that connect users to
// devices.
//
// Two consumers read it:
//   - ingestion looks up detected identifiers by exact (type, value)
//   - LiveSync resolves a credential to the devices it must be written to
//
// Resolution walks credential → owner → access groups → devices and
// deduplicates by device ID, so a user who reaches a gate through two
// groups gets one provisioning call for that gate.
package credential
