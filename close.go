package docgo

// Close checkpoints best effort and releases the WAL and storage files.
// In-flight transactions are discarded; committed work is durable per the
// configured durability mode. Close is idempotent.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	return translateError(db.engine.Close())
}
