package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/expense-tracker/internal/expense"
)

const (
	receiptBucketName = "receipts"
	clientBucketName  = "clients"
	budgetBucketName  = "budgets"
)

// DB defines the interface for database operations. Every read is scoped by
// owner; a record of another owner is reported as ErrNotFound.
type DB interface {
	// SaveReceipt inserts or replaces a receipt
	SaveReceipt(receipt *expense.Receipt) error

	// SaveReceipts inserts or replaces several receipts at once
	SaveReceipts(receipts []*expense.Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(ownerID, id string) (*expense.Receipt, error)

	// QueryReceipts returns the owner's receipts matching q, sorted
	QueryReceipts(q Query) ([]*expense.Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(ownerID, id string) error

	SaveClient(client *expense.Client) error
	GetClient(ownerID, id string) (*expense.Client, error)
	ListClients(ownerID string) ([]*expense.Client, error)
	DeleteClient(ownerID, id string) error

	SaveBudget(budget *expense.Budget) error
	GetBudget(ownerID, id string) (*expense.Budget, error)
	ListBudgets(ownerID string) ([]*expense.Budget, error)
	DeleteBudget(ownerID, id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Values are JSON.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptBucketName, clientBucketName, budgetBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// owned is implemented by every stored record.
type owned interface {
	*expense.Receipt | *expense.Client | *expense.Budget
}

func ownerOf[T owned](v T) string {
	switch r := any(v).(type) {
	case *expense.Receipt:
		return r.OwnerID
	case *expense.Client:
		return r.OwnerID
	case *expense.Budget:
		return r.OwnerID
	}
	return ""
}

func boltPut(tx *bbolt.Tx, bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", bucket, err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(id), data)
}

func boltGet[T owned](db *bbolt.DB, bucket, kind, ownerID, id string) (T, error) {
	var out T
	err := db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(id))
		if data == nil {
			return notFound(kind, id)
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("unmarshaling %s: %w", kind, err)
		}
		if ownerOf(out) != ownerID {
			return notFound(kind, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func boltList[T owned](db *bbolt.DB, bucket, kind, ownerID string) ([]T, error) {
	out := make([]T, 0)
	err := db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling %s: %w", kind, err)
			}
			if ownerOf(item) == ownerID {
				out = append(out, item)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func boltDelete[T owned](db *bbolt.DB, bucket, kind, ownerID, id string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		data := b.Get([]byte(id))
		if data == nil {
			return notFound(kind, id)
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("unmarshaling %s: %w", kind, err)
		}
		if ownerOf(item) != ownerID {
			return notFound(kind, id)
		}
		return b.Delete([]byte(id))
	})
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(receipt *expense.Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return boltPut(tx, receiptBucketName, receipt.ID, receipt)
	})
}

// SaveReceipts saves all receipts in one transaction
func (b *BoltDB) SaveReceipts(receipts []*expense.Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, r := range receipts {
			if err := boltPut(tx, receiptBucketName, r.ID, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(ownerID, id string) (*expense.Receipt, error) {
	return boltGet[*expense.Receipt](b.db, receiptBucketName, "receipt", ownerID, id)
}

// QueryReceipts scans the owner's receipts and filters them in memory
func (b *BoltDB) QueryReceipts(q Query) ([]*expense.Receipt, error) {
	all, err := boltList[*expense.Receipt](b.db, receiptBucketName, "receipt", q.OwnerID)
	if err != nil {
		return nil, err
	}
	receipts := make([]*expense.Receipt, 0, len(all))
	for _, r := range all {
		if q.Matches(r) {
			receipts = append(receipts, r)
		}
	}
	q.Sort(receipts)
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(ownerID, id string) error {
	return boltDelete[*expense.Receipt](b.db, receiptBucketName, "receipt", ownerID, id)
}

func (b *BoltDB) SaveClient(client *expense.Client) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return boltPut(tx, clientBucketName, client.ID, client)
	})
}

func (b *BoltDB) GetClient(ownerID, id string) (*expense.Client, error) {
	return boltGet[*expense.Client](b.db, clientBucketName, "client", ownerID, id)
}

func (b *BoltDB) ListClients(ownerID string) ([]*expense.Client, error) {
	return boltList[*expense.Client](b.db, clientBucketName, "client", ownerID)
}

func (b *BoltDB) DeleteClient(ownerID, id string) error {
	return boltDelete[*expense.Client](b.db, clientBucketName, "client", ownerID, id)
}

func (b *BoltDB) SaveBudget(budget *expense.Budget) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return boltPut(tx, budgetBucketName, budget.ID, budget)
	})
}

func (b *BoltDB) GetBudget(ownerID, id string) (*expense.Budget, error) {
	return boltGet[*expense.Budget](b.db, budgetBucketName, "budget", ownerID, id)
}

func (b *BoltDB) ListBudgets(ownerID string) ([]*expense.Budget, error) {
	return boltList[*expense.Budget](b.db, budgetBucketName, "budget", ownerID)
}

func (b *BoltDB) DeleteBudget(ownerID, id string) error {
	return boltDelete[*expense.Budget](b.db, budgetBucketName, "budget", ownerID, id)
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
