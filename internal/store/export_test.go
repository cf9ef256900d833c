package store

import "context"

// SetSchemaVersionForTest rewrites the recorded schema version.
func (s *Store) SetSchemaVersionForTest(version int) error {
	return s.exec(context.Background(), "UPDATE schema_version SET version = ?", version)
}
