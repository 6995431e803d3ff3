package encryption

import (
	"context"
	"fmt"

	"github.com/zerofs/zerofs-go/kvstore"
)

// DB pairs the LSM store with a Manager so every caller above this
// layer reads and writes plaintext; keys are never encrypted (the
// store needs them in cleartext to keep range scans ordered), values
// always are. Mirrors the upstream `EncryptedDb` wrapper around its
// `slatedb::Db`.
type DB struct {
	store *kvstore.DB
	mgr   *Manager
}

// NewDB wraps store with mgr.
func NewDB(store *kvstore.DB, mgr *Manager) *DB {
	return &DB{store: store, mgr: mgr}
}

// Raw exposes the underlying kvstore.DB for callers that need the
// unencrypted engine directly, without going through this package's
// encrypt/decrypt path.
func (d *DB) Raw() *kvstore.DB { return d.store }

// GetBytes fetches and decrypts the value at key, reporting false if
// absent.
func (d *DB) GetBytes(ctx context.Context, key []byte) ([]byte, bool, error) {
	enc, ok, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("encryption: get %x: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	plain, err := d.mgr.Decrypt(key, enc)
	if err != nil {
		return nil, false, fmt.Errorf("encryption: decrypt %x: %w", key, err)
	}
	return plain, true, nil
}

// DecryptedRecord is a plaintext key/value pair returned by Scan.
type DecryptedRecord struct {
	Key   []byte
	Value []byte
}

// Scan returns every live record in [start, end), decrypted.
func (d *DB) Scan(ctx context.Context, start, end []byte, opts kvstore.ScanOptions) ([]DecryptedRecord, error) {
	it, err := d.store.Scan(ctx, start, end, opts)
	if err != nil {
		return nil, err
	}
	var out []DecryptedRecord
	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		plain, err := d.mgr.Decrypt(rec.Key, rec.Value)
		if err != nil {
			return nil, fmt.Errorf("encryption: decrypt %x: %w", rec.Key, err)
		}
		out = append(out, DecryptedRecord{Key: rec.Key, Value: plain})
	}
	return out, nil
}

// Transaction stages plaintext mutations, encrypting each value as it
// is added so the underlying kvstore.Batch only ever holds ciphertext,
// matching the upstream `EncryptedTransaction`'s role: a buffer of
// pending writes that becomes one atomic WriteBatch at Commit.
type Transaction struct {
	mgr *Manager
	kv  *kvstore.Batch
}

// NewTransaction returns an empty transaction bound to this DB's
// Manager.
func (d *DB) NewTransaction() *Transaction {
	return &Transaction{mgr: d.mgr, kv: kvstore.NewBatch()}
}

// PutBytes stages an encrypted write for key/plaintext.
func (t *Transaction) PutBytes(key, plaintext []byte) error {
	ciphertext, err := t.mgr.Encrypt(key, plaintext)
	if err != nil {
		return fmt.Errorf("encryption: encrypt %x: %w", key, err)
	}
	t.kv.Put(key, ciphertext)
	return nil
}

// DeleteBytes stages a deletion for key.
func (t *Transaction) DeleteBytes(key []byte) {
	t.kv.Delete(key)
}

// Len reports how many operations are staged.
func (t *Transaction) Len() int { return t.kv.Len() }

// Commit writes every staged operation atomically via the underlying
// kvstore.DB.WriteBatch.
func (d *DB) Commit(ctx context.Context, t *Transaction, opts kvstore.WriteOptions) error {
	return d.store.WriteBatch(ctx, t.kv, opts)
}
