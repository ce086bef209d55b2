// Package stores persists execution history in SQLite. Every finished
// Executor operation can be recorded (SQLiteStore implements
// engine.Recorder) together with an audit trail of destructive workspace
// actions. The schema is applied with embedded golang-migrate migrations.
package stores
