package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/sharedcode/ogm"
)

var (
	usersMeta     = ogm.EntityKeyMetadata{Table: "users", ColumnNames: []string{"id"}}
	userRolesMeta = ogm.AssociationKeyMetadata{
		Table:             "user_roles",
		ColumnNames:       []string{"user_id"},
		RowKeyColumnNames: []string{"user_id", "role"},
	}
)

func setup(t testing.TB, options Options) *Dialect {
	t.Helper()
	options.IsTesting = true
	d, err := Open(filepath.Join(t.TempDir(), "ogm_test.db"), options)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func userKey(id any) ogm.EntityKey {
	return ogm.EntityKey{Metadata: usersMeta, ColumnValues: []any{id}}
}

func rolesKey(user string) ogm.AssociationKey {
	return ogm.AssociationKey{Metadata: userRolesMeta, ColumnValues: []any{user}, EntityKey: userKey(user)}
}

func roleRow(user, role string) ogm.RowKey {
	return ogm.RowKey{ColumnNames: userRolesMeta.RowKeyColumnNames, ColumnValues: []any{user, role}}
}

func TestTuple_RoundTrip(t *testing.T) {
	ctx := context.Background()
	d := setup(t, Options{})
	key := userKey("u1")

	if tp, err := d.GetTuple(ctx, key); err != nil || tp != nil {
		t.Fatalf("expected not found, got %v, %v", tp, err)
	}

	tp := d.CreateTuple(key)
	tp.Put("name", "joe")
	tp.Put("age", 30)
	tp.Put("email", "joe@example.com")
	if err := d.InsertOrUpdateTuple(ctx, key, tp); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	read, err := d.GetTuple(ctx, key)
	if err != nil || read == nil {
		t.Fatalf("got %v, %v", read, err)
	}
	if read.Get("id") != "u1" || read.Get("name") != "joe" || read.Get("age") != int64(30) {
		t.Fatalf("got %v", read.Map())
	}

	read.Put("email", nil)
	read.Remove("age")
	read.Remove("id")
	read.Put("city", "paris")
	if err := d.InsertOrUpdateTuple(ctx, key, read); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	again, _ := d.GetTuple(ctx, key)
	m := again.Map()
	if len(m) != 3 || m["id"] != "u1" || m["name"] != "joe" || m["city"] != "paris" {
		t.Fatalf("got %v", m)
	}

	if err := d.RemoveTuple(ctx, key); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if tp, _ := d.GetTuple(ctx, key); tp != nil {
		t.Fatalf("record should be gone")
	}
}

func TestTuple_IntegerKeysOfAnyWidth(t *testing.T) {
	ctx := context.Background()
	d := setup(t, Options{})
	tp := d.CreateTuple(userKey(int32(7)))
	tp.Put("name", "joe")
	if err := d.InsertOrUpdateTuple(ctx, userKey(int32(7)), tp); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if read, err := d.GetTuple(ctx, userKey(7)); err != nil || read == nil {
		t.Fatalf("got %v, %v", read, err)
	}
}

func TestInsertTuple_AlreadyExists(t *testing.T) {
	ctx := context.Background()
	d := setup(t, Options{})
	key := userKey("u1")
	tp := d.CreateTuple(key)
	tp.Put("name", "joe")
	if err := ogm.InsertTuple(ctx, ogm.Decorate(d), key, tp); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if err := d.InsertTuple(ctx, key, d.CreateTuple(key)); !ogm.IsCode(err, ogm.AlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	read, _ := d.GetTuple(ctx, key)
	if read.Get("name") != "joe" {
		t.Fatalf("failed insert overwrote the record: %v", read)
	}
}

func TestAssociation_Lifecycle(t *testing.T) {
	ctx := context.Background()
	d := setup(t, Options{})
	key := rolesKey("u1")

	if a, err := d.GetAssociation(ctx, key); err != nil || a != nil {
		t.Fatalf("expected not found, got %v, %v", a, err)
	}
	a := d.CreateAssociation(key)
	for _, role := range []string{"admin", "dev", "ops"} {
		row := ogm.NewCreatedTuple(ogm.MapTupleSnapshot{"user_id": "u1", "role": role})
		row.Put("granted_by", "root")
		a.Put(roleRow("u1", role), row)
	}
	if err := d.InsertOrUpdateAssociation(ctx, key, a); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	loaded, err := d.GetAssociation(ctx, key)
	if err != nil || loaded.Size() != 3 {
		t.Fatalf("got %v, %v", loaded, err)
	}
	if row := loaded.Get(roleRow("u1", "dev")); row == nil || row.Get("granted_by") != "root" {
		t.Fatalf("got %v", row)
	}

	loaded.Remove(roleRow("u1", "admin"))
	loaded.Clear()
	loaded.Put(roleRow("u1", "ops"), ogm.NewTuple(ogm.MapTupleSnapshot{"user_id": "u1", "role": "ops"}))
	if err := d.InsertOrUpdateAssociation(ctx, key, loaded); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	final, _ := d.GetAssociation(ctx, key)
	keys := final.Keys()
	if len(keys) != 1 || !keys[0].Equal(roleRow("u1", "ops")) {
		t.Fatalf("got %v", keys)
	}

	final.Remove(roleRow("u1", "ops"))
	if err := d.InsertOrUpdateAssociation(ctx, key, final); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if a, _ := d.GetAssociation(ctx, key); a != nil {
		t.Fatalf("association should be empty, got %v", a)
	}
}

func TestAssociation_OwnersAreIsolated(t *testing.T) {
	ctx := context.Background()
	d := setup(t, Options{})
	for _, user := range []string{"u1", "u2"} {
		a := d.CreateAssociation(rolesKey(user))
		a.Put(roleRow(user, "dev"), ogm.NewTuple(nil))
		if err := d.InsertOrUpdateAssociation(ctx, rolesKey(user), a); err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if err := d.RemoveAssociation(ctx, rolesKey("u1")); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if a, _ := d.GetAssociation(ctx, rolesKey("u1")); a != nil {
		t.Fatalf("u1 roles should be gone")
	}
	if a, _ := d.GetAssociation(ctx, rolesKey("u2")); a == nil || a.Size() != 1 {
		t.Fatalf("u2 roles should be intact, got %v", a)
	}
}

func TestAssociation_InverseIsNotWritten(t *testing.T) {
	ctx := context.Background()
	d := setup(t, Options{})
	key := rolesKey("u1")
	key.Metadata.Inverse = true
	a := d.CreateAssociation(key)
	a.Put(roleRow("u1", "admin"), ogm.NewTuple(nil))
	if err := d.InsertOrUpdateAssociation(ctx, key, a); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	key.Metadata.Inverse = false
	if a, _ := d.GetAssociation(ctx, key); a != nil {
		t.Fatalf("inverse association was written: %v", a)
	}
}

func TestNextValue(t *testing.T) {
	ctx := context.Background()
	d := setup(t, Options{})
	req := ogm.NextValueRequest{
		Key:          ogm.IDSourceKey{Metadata: ogm.IDSourceKeyMetadata{Type: ogm.SequenceIDSource, Name: "order_seq"}},
		Increment:    5,
		InitialValue: 100,
	}
	for _, want := range []int64{100, 105, 110} {
		got, err := d.NextValue(ctx, req)
		if err != nil || got != want {
			t.Fatalf("got %d, %v, want %d", got, err, want)
		}
	}
}

func TestNextValue_Concurrent(t *testing.T) {
	ctx := context.Background()
	d := setup(t, Options{})
	req := ogm.NextValueRequest{
		Key:          ogm.IDSourceKey{Metadata: ogm.IDSourceKeyMetadata{Type: ogm.TableIDSource, Name: "hibernate_sequences"}, ColumnValue: "orders"},
		Increment:    1,
		InitialValue: 1,
	}
	var mu sync.Mutex
	var got []int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				v, err := d.NextValue(ctx, req)
				if err != nil {
					t.Errorf("unexpected error %v", err)
					return
				}
				mu.Lock()
				got = append(got, v)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != 80 {
		t.Fatalf("got %d values", len(got))
	}
	for i, v := range got {
		if v != int64(i+1) {
			t.Fatalf("values are not unique and dense: %v", got)
		}
	}
}

func TestForEachTuple_Batches(t *testing.T) {
	ctx := context.Background()
	d := setup(t, Options{ScanBatch: 2})
	for i := 0; i < 5; i++ {
		key := userKey(int64(i))
		tp := d.CreateTuple(key)
		tp.Put("n", i)
		if err := d.InsertOrUpdateTuple(ctx, key, tp); err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	}
	var seen []int64
	err := d.ForEachTuple(ctx, func(ctx context.Context, m ogm.EntityKeyMetadata, tp *ogm.Tuple) error {
		seen = append(seen, tp.Get("n").(int64))
		// Consumers run outside the read transaction and may write.
		tp.Put("visited", true)
		return d.InsertOrUpdateTuple(ctx, userKey(tp.Get("id")), tp)
	}, usersMeta, ogm.EntityKeyMetadata{Table: "missing", ColumnNames: []string{"id"}})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	if len(seen) != 5 || seen[0] != 0 || seen[4] != 4 {
		t.Fatalf("got %v", seen)
	}
	if read, _ := d.GetTuple(ctx, userKey(int64(3))); read.Get("visited") != true {
		t.Fatalf("consumer write was lost: %v", read)
	}

	stop := errors.New("stop")
	calls := 0
	err = d.ForEachTuple(ctx, func(context.Context, ogm.EntityKeyMetadata, *ogm.Tuple) error {
		calls++
		return stop
	}, usersMeta)
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("got %v after %d calls", err, calls)
	}
}

func TestLockStrategyAndOverrides(t *testing.T) {
	d := setup(t, Options{})
	if d.LockStrategy(ogm.LockPessimisticWrite) != nil {
		t.Fatalf("bolt has no lock strategy")
	}
	if d.IsStoredInEntityStructure(userRolesMeta) {
		t.Fatalf("associations have their own buckets")
	}
}
