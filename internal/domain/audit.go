package domain

// AuditLog is the interface for appending lifecycle and routing records.
// Implementations must write each record atomically; a failed append is
// allowed to terminate the process.
type AuditLog interface {
	Record(message string, data any)
}
