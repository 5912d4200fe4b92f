package cassandra

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sharedcode/ogm"
)

var (
	usersTable     = TableMetadata{Name: "users", PartitionKeys: []string{"id"}}
	userRolesTable = TableMetadata{Name: "user_roles", PartitionKeys: []string{"user_id"}, ClusteringKeys: []string{"role"}}
	sequencesTable = TableMetadata{Name: "sequences", PartitionKeys: []string{"sequence_name"}}

	usersMeta     = ogm.EntityKeyMetadata{Table: "users", ColumnNames: []string{"id"}}
	userRolesMeta = ogm.AssociationKeyMetadata{
		Table:             "user_roles",
		ColumnNames:       []string{"user_id"},
		RowKeyColumnNames: []string{"user_id", "role"},
	}
)

func newTestDialect(tables ...TableMetadata) (*fakeSession, *Dialect) {
	s := newFakeSession(append([]TableMetadata{usersTable, userRolesTable, sequencesTable}, tables...)...)
	return s, NewDialect(s, Config{Keyspace: "ks"})
}

func userKey(id string) ogm.EntityKey {
	k, _ := ogm.NewEntityKey(usersMeta, []any{id})
	return k
}

func rolesKey(user string) ogm.AssociationKey {
	k, _ := ogm.NewAssociationKey(userRolesMeta, []any{user}, userKey(user))
	return k
}

func roleRow(user, role string) ogm.RowKey {
	k, _ := ogm.NewRowKey(userRolesMeta.RowKeyColumnNames, []any{user, role})
	return k
}

func TestGetTuple_NotFound(t *testing.T) {
	ctx := context.Background()
	s, d := newTestDialect()
	tp, err := d.GetTuple(ctx, userKey("u1"))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if tp != nil {
		t.Fatalf("expected not found, got %v", tp)
	}
	if got := s.statements(); len(got) != 1 || got[0] != "SELECT * FROM ks.users WHERE id=?" {
		t.Fatalf("got %v", got)
	}
}

func TestCreateUpsertRead_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, d := newTestDialect()
	key := userKey("u1")
	tp := d.CreateTuple(key)
	if tp.Get("id") != "u1" {
		t.Fatalf("created tuple should expose its key column")
	}
	tp.Put("name", "joe")
	if err := d.InsertOrUpdateTuple(ctx, key, tp); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := s.statements(); len(got) != 1 || got[0] != "INSERT INTO ks.users (name, id) VALUES (?, ?)" {
		t.Fatalf("got %v", got)
	}

	read, err := d.GetTuple(ctx, key)
	if err != nil || read == nil {
		t.Fatalf("got %v, %v", read, err)
	}
	if read.Get("id") != "u1" || read.Get("name") != "joe" {
		t.Fatalf("got %v", read.Map())
	}
}

func TestInsertOrUpdateTuple_ClearsBeforeSetting(t *testing.T) {
	ctx := context.Background()
	s, d := newTestDialect()
	key := userKey("u1")
	seed := d.CreateTuple(key)
	seed.Put("name", "joe")
	seed.Put("age", 30)
	seed.Put("nick", "jj")
	seed.Put("email", "joe@example.com")
	if err := d.InsertOrUpdateTuple(ctx, key, seed); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	tp, _ := d.GetTuple(ctx, key)
	tp.Put("name", "jane")
	tp.Remove("age")
	tp.Put("nick", nil)
	before := len(s.statements())
	if err := d.InsertOrUpdateTuple(ctx, key, tp); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	got := s.statements()[before:]
	want := []string{
		"DELETE age, nick FROM ks.users WHERE id=?",
		"INSERT INTO ks.users (name, id) VALUES (?, ?)",
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}

	read, _ := d.GetTuple(ctx, key)
	m := read.Map()
	if m["name"] != "jane" || m["email"] != "joe@example.com" {
		t.Fatalf("columns without operation must be left untouched: %v", m)
	}
	if _, ok := m["age"]; ok {
		t.Fatalf("age should be unset: %v", m)
	}
}

func TestInsertOrUpdateTuple_NeverUnsetsKeyColumns(t *testing.T) {
	ctx := context.Background()
	s, d := newTestDialect()
	key := userKey("u1")
	tp := d.CreateTuple(key)
	tp.Remove("id")
	if err := d.InsertOrUpdateTuple(ctx, key, tp); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := s.statements(); len(got) != 0 {
		t.Fatalf("no statement expected, got %v", got)
	}
}

func TestRemoveTuple(t *testing.T) {
	ctx := context.Background()
	_, d := newTestDialect()
	key := userKey("u1")
	tp := d.CreateTuple(key)
	tp.Put("name", "joe")
	d.InsertOrUpdateTuple(ctx, key, tp)
	if err := d.RemoveTuple(ctx, key); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if tp, _ := d.GetTuple(ctx, key); tp != nil {
		t.Fatalf("record should be gone, got %v", tp)
	}
}

func TestInsertTuple_AlreadyExists(t *testing.T) {
	ctx := context.Background()
	_, d := newTestDialect()
	key := userKey("u1")
	tp := d.CreateTuple(key)
	tp.Put("name", "joe")
	if err := d.InsertTuple(ctx, key, tp); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	again := d.CreateTuple(key)
	again.Put("name", "jane")
	err := d.InsertTuple(ctx, key, again)
	if !ogm.IsCode(err, ogm.AlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if ogm.Statement(err) != "INSERT INTO ks.users (name, id) VALUES (?, ?) IF NOT EXISTS" {
		t.Fatalf("got statement %q", ogm.Statement(err))
	}
}

func TestBackendFailure_CarriesStatement(t *testing.T) {
	ctx := context.Background()
	s, d := newTestDialect()
	cause := errors.New("no hosts available")
	s.failWith["ks.users"] = cause
	_, err := d.GetTuple(ctx, userKey("u1"))
	if !ogm.IsCode(err, ogm.BackendFailure) {
		t.Fatalf("expected backend failure, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost: %v", err)
	}
	if ogm.Statement(err) != "SELECT * FROM ks.users WHERE id=?" {
		t.Fatalf("got statement %q", ogm.Statement(err))
	}
}

func TestStatementCache_SingleFlight(t *testing.T) {
	ctx := context.Background()
	s, d := newTestDialect()
	s.prepareDelay = 20 * time.Millisecond

	const n = 16
	var wg sync.WaitGroup
	statements := make([]PreparedStatement, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := d.prepare(ctx, "SELECT * FROM ks.users WHERE id=?")
			if err != nil {
				t.Errorf("unexpected error %v", err)
				return
			}
			statements[i] = p
		}(i)
	}
	wg.Wait()
	if c := s.prepareCount("SELECT * FROM ks.users WHERE id=?"); c != 1 {
		t.Fatalf("statement prepared %d times", c)
	}
	for i := 1; i < n; i++ {
		if statements[i] != statements[0] {
			t.Fatalf("caller %d got a different prepared statement", i)
		}
	}

	// Reuse across operations.
	d.GetTuple(ctx, userKey("u1"))
	d.GetTuple(ctx, userKey("u2"))
	if c := s.prepareCount("SELECT * FROM ks.users WHERE id=?"); c != 1 {
		t.Fatalf("statement prepared %d times", c)
	}
}

func TestAssociation_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s, d := newTestDialect()
	key := rolesKey("u1")

	if a, err := d.GetAssociation(ctx, key); err != nil || a != nil {
		t.Fatalf("expected not found, got %v, %v", a, err)
	}

	before := len(s.statements())
	a := d.CreateAssociation(key)
	for _, role := range []string{"admin", "dev", "ops"} {
		row := ogm.NewCreatedTuple(ogm.MapTupleSnapshot{"user_id": "u1", "role": role})
		row.Put("granted_by", "root")
		a.Put(roleRow("u1", role), row)
	}
	if err := d.InsertOrUpdateAssociation(ctx, key, a); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	want := "INSERT INTO ks.user_roles (user_id, role, granted_by) VALUES (?, ?, ?)"
	if got := s.statements()[before:]; len(got) != 3 || got[0] != want {
		t.Fatalf("got %v", got)
	}

	loaded, err := d.GetAssociation(ctx, key)
	if err != nil || loaded == nil {
		t.Fatalf("got %v, %v", loaded, err)
	}
	if loaded.Size() != 3 {
		t.Fatalf("got size %d", loaded.Size())
	}
	if row := loaded.Get(roleRow("u1", "dev")); row == nil || row.Get("granted_by") != "root" {
		t.Fatalf("got row %v", row)
	}

	loaded.Remove(roleRow("u1", "ops"))
	if err := d.InsertOrUpdateAssociation(ctx, key, loaded); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if n := len(s.rows("user_roles")); n != 2 {
		t.Fatalf("got %d rows", n)
	}

	cleared, _ := d.GetAssociation(ctx, key)
	cleared.Clear()
	cleared.Put(roleRow("u1", "dev"), ogm.NewTuple(ogm.MapTupleSnapshot{"user_id": "u1", "role": "dev"}))
	before = len(s.statements())
	if err := d.InsertOrUpdateAssociation(ctx, key, cleared); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	got := s.statements()[before:]
	if len(got) != 2 || got[0] != "DELETE FROM ks.user_roles WHERE user_id=?" ||
		got[1] != "INSERT INTO ks.user_roles (user_id, role) VALUES (?, ?)" {
		t.Fatalf("got %v", got)
	}
	final, _ := d.GetAssociation(ctx, key)
	keys := final.Keys()
	if len(keys) != 1 || !keys[0].Equal(roleRow("u1", "dev")) {
		t.Fatalf("got keys %v", keys)
	}

	if err := d.RemoveAssociation(ctx, key); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if a, _ := d.GetAssociation(ctx, key); a != nil {
		t.Fatalf("association should be gone")
	}
}

func TestGetAssociation_AllowFiltering(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		table TableMetadata
		want  string
	}{
		{"primary key lookup", userRolesTable,
			"SELECT * FROM ks.user_roles WHERE user_id=?"},
		{"row key outside primary key", TableMetadata{Name: "user_roles", PartitionKeys: []string{"user_id"}},
			"SELECT * FROM ks.user_roles WHERE user_id=? ALLOW FILTERING"},
		{"owner is not the partition key", TableMetadata{Name: "user_roles", PartitionKeys: []string{"role"}, ClusteringKeys: []string{"user_id"}},
			"SELECT * FROM ks.user_roles WHERE user_id=? ALLOW FILTERING"},
	}
	for _, c := range cases {
		s := newFakeSession(c.table)
		d := NewDialect(s, Config{Keyspace: "ks"})
		if _, err := d.GetAssociation(ctx, rolesKey("u1")); err != nil {
			t.Fatalf("%s: unexpected error %v", c.name, err)
		}
		if got := s.statements(); len(got) != 1 || got[0] != c.want {
			t.Fatalf("%s: got %v", c.name, got)
		}
	}

	// Unknown schema falls back to filtering rather than failing.
	s := newFakeSession()
	d := NewDialect(s, Config{Keyspace: "ks"})
	if _, err := d.GetAssociation(ctx, rolesKey("u1")); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := s.statements(); got[0] != "SELECT * FROM ks.user_roles WHERE user_id=? ALLOW FILTERING" {
		t.Fatalf("got %v", got)
	}

	// Declared tables win over the cluster schema.
	s = newFakeSession(TableMetadata{Name: "user_roles", PartitionKeys: []string{"user_id"}})
	d = NewDialect(s, Config{Keyspace: "ks", Tables: []TableMetadata{userRolesTable}})
	d.GetAssociation(ctx, rolesKey("u1"))
	if got := s.statements(); got[0] != "SELECT * FROM ks.user_roles WHERE user_id=?" {
		t.Fatalf("got %v", got)
	}
}

func TestInverseAssociation_IsNotWritten(t *testing.T) {
	ctx := context.Background()
	s, d := newTestDialect()
	key := rolesKey("u1")
	key.Metadata.Inverse = true
	a := d.CreateAssociation(key)
	a.Put(roleRow("u1", "admin"), ogm.NewTuple(nil))
	if err := d.InsertOrUpdateAssociation(ctx, key, a); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if err := d.RemoveAssociation(ctx, key); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := s.statements(); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}

func TestNextValue(t *testing.T) {
	ctx := context.Background()
	_, d := newTestDialect()
	req := ogm.NextValueRequest{
		Key:          ogm.IDSourceKey{Metadata: ogm.IDSourceKeyMetadata{Type: ogm.SequenceIDSource, Name: "order_seq"}},
		Increment:    5,
		InitialValue: 100,
	}
	for _, want := range []int64{100, 105, 110} {
		got, err := d.NextValue(ctx, req)
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	}
}

func TestNextValue_Concurrent(t *testing.T) {
	ctx := context.Background()
	_, d := newTestDialect()
	req := ogm.NextValueRequest{
		Key:          ogm.IDSourceKey{Metadata: ogm.IDSourceKeyMetadata{Type: ogm.SequenceIDSource, Name: "order_seq"}},
		Increment:    1,
		InitialValue: 1,
	}
	const workers, perWorker = 4, 5
	var mu sync.Mutex
	var got []int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
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
	if len(got) != workers*perWorker {
		t.Fatalf("got %d values", len(got))
	}
	for i, v := range got {
		if v != int64(i+1) {
			t.Fatalf("values are not unique and dense: %v", got)
		}
	}
}

func TestNextValue_TableIDSource(t *testing.T) {
	ctx := context.Background()
	s, d := newTestDialect(TableMetadata{Name: "hibernate_sequences", PartitionKeys: []string{"segment"}})
	req := ogm.NextValueRequest{
		Key: ogm.IDSourceKey{
			Metadata:    ogm.IDSourceKeyMetadata{Type: ogm.TableIDSource, Name: "hibernate_sequences", KeyColumnName: "segment", ValueColumnName: "value"},
			ColumnValue: "orders",
		},
		Increment:    1,
		InitialValue: 1,
	}
	if v, err := d.NextValue(ctx, req); err != nil || v != 1 {
		t.Fatalf("got %d, %v", v, err)
	}
	rows := s.rows("hibernate_sequences")
	if len(rows) != 1 || rows[0]["segment"] != "orders" || rows[0]["value"] != int64(2) {
		t.Fatalf("got %v", rows)
	}
}

func TestOverrideType(t *testing.T) {
	ctx := context.Background()
	s, d := newTestDialect()
	key := userKey("u1")
	tp := d.CreateTuple(key)
	tp.Put("visits", uint32(7))
	tp.Put("session_ttl", 2*time.Second)
	if err := d.InsertOrUpdateTuple(ctx, key, tp); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	binds := s.binds[len(s.binds)-1]
	// Columns are bound in name order: session_ttl, visits, then the key.
	if binds[0] != int64(2*time.Second) || binds[1] != int64(7) || binds[2] != "u1" {
		t.Fatalf("got %v", binds)
	}

	c := d.OverrideType(reflect.TypeOf(uint16(0)))
	v, err := c.FromBackend(int64(70000))
	if err == nil {
		t.Fatalf("expected overflow, got %v", v)
	}
	if d.OverrideType(reflect.TypeOf("")) != nil {
		t.Fatalf("strings keep the default mapping")
	}
}

func TestForEachTuple(t *testing.T) {
	ctx := context.Background()
	_, d := newTestDialect()
	for _, id := range []string{"a", "b", "c"} {
		tp := d.CreateTuple(userKey(id))
		tp.Put("name", id)
		d.InsertOrUpdateTuple(ctx, userKey(id), tp)
	}
	var seen []string
	err := d.ForEachTuple(ctx, func(ctx context.Context, m ogm.EntityKeyMetadata, tp *ogm.Tuple) error {
		seen = append(seen, tp.Get("name").(string))
		return nil
	}, usersMeta)
	if err != nil || len(seen) != 3 {
		t.Fatalf("got %v, %v", seen, err)
	}

	stop := errors.New("stop")
	calls := 0
	err = d.ForEachTuple(ctx, func(ctx context.Context, m ogm.EntityKeyMetadata, tp *ogm.Tuple) error {
		calls++
		return stop
	}, usersMeta)
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("got %v after %d calls", err, calls)
	}
}

func TestExecuteBackendQuery(t *testing.T) {
	ctx := context.Background()
	_, d := newTestDialect()
	tp := d.CreateTuple(userKey("u1"))
	tp.Put("name", "joe")
	d.InsertOrUpdateTuple(ctx, userKey("u1"), tp)

	var names []any
	err := d.ExecuteBackendQuery(ctx, "SELECT * FROM ks.users WHERE name=? ALLOW FILTERING", []any{"joe"}, func(tp *ogm.Tuple) error {
		names = append(names, tp.Get("id"))
		return nil
	})
	if err != nil || len(names) != 1 || names[0] != "u1" {
		t.Fatalf("got %v, %v", names, err)
	}
}

func TestLockStrategy_None(t *testing.T) {
	_, d := newTestDialect()
	if d.LockStrategy(ogm.LockPessimisticWrite) != nil {
		t.Fatalf("cassandra has no lock strategy")
	}
}
