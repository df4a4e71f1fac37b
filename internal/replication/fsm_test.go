package replication

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"

	"github.com/voldyman/typesense/internal/collection"
	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/internal/store"
)

func testSchema() schema.Schema {
	return schema.Schema{
		Fields: []schema.Field{
			{Name: "title", Type: schema.TypeString},
			{Name: "points", Type: schema.TypeInt32},
		},
		DefaultSortField: "points",
	}
}

func newTestFSM(t *testing.T) (*fsm, *collection.Manager) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	manager, err := collection.NewManager(st)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(manager.Close)
	return newFSM(manager, st), manager
}

func applyOp(t *testing.T, f *fsm, op Operation) ApplyResult {
	t.Helper()
	data, err := json.Marshal(op)
	if err != nil {
		t.Fatal(err)
	}
	res, ok := f.Apply(&raft.Log{Index: 1, Data: data}).(ApplyResult)
	if !ok {
		t.Fatal("apply returned an unexpected type")
	}
	return res
}

func writeLog(t *testing.T) []Operation {
	t.Helper()
	s := testSchema()
	mkDoc := func(id, title string, points int) json.RawMessage {
		raw, _ := json.Marshal(map[string]any{"id": id, "title": title, "points": points})
		return raw
	}
	return []Operation{
		{Type: OpCollectionCreate, Collection: "books", Schema: &s},
		{Type: OpDocWrite, Collection: "books", Mode: "create", Document: mkDoc("1", "first entry", 10)},
		{Type: OpDocWrite, Collection: "books", Mode: "create", Document: mkDoc("2", "second entry", 20)},
		{Type: OpDocWrite, Collection: "books", Mode: "upsert", Document: mkDoc("1", "first rewritten", 30)},
		{Type: OpDocDelete, Collection: "books", DocID: "2"},
		{Type: OpNoop},
	}
}

func TestApplyOperations(t *testing.T) {
	f, manager := newTestFSM(t)
	for i, op := range writeLog(t) {
		if res := applyOp(t, f, op); res.Err != nil {
			t.Fatalf("op %d failed: %v", i, res.Err)
		}
	}

	c, err := manager.Get("books")
	if err != nil {
		t.Fatal(err)
	}
	if c.NumDocuments() != 1 {
		t.Fatalf("num documents = %d, want 1", c.NumDocuments())
	}
	doc, err := c.Get("1")
	if err != nil {
		t.Fatal(err)
	}
	if doc["title"] != "first rewritten" {
		t.Fatalf("doc = %v", doc)
	}
}

func TestApplyErrorsSurface(t *testing.T) {
	f, _ := newTestFSM(t)

	res := applyOp(t, f, Operation{Type: OpDocDelete, Collection: "ghost", DocID: "1"})
	if res.Err == nil {
		t.Fatal("delete on a missing collection must fail")
	}

	res = applyOp(t, f, Operation{Type: "bogus"})
	if res.Err == nil {
		t.Fatal("unknown op type must fail")
	}
}

// Replaying the committed log against an empty state must reconstruct the
// identical searchable state.
func TestLogReplayReconstructsState(t *testing.T) {
	search := func(m *collection.Manager) []string {
		c, err := m.Get("books")
		if err != nil {
			t.Fatal(err)
		}
		res, err := c.Search(collection.SearchParams{Q: "*", QueryBy: []string{"title"}, SortBy: []string{"points:DESC"}})
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, h := range res.Hits {
			ids = append(ids, h.Document["id"].(string))
		}
		return ids
	}

	f1, m1 := newTestFSM(t)
	for _, op := range writeLog(t) {
		applyOp(t, f1, op)
	}
	first := search(m1)

	f2, m2 := newTestFSM(t)
	for _, op := range writeLog(t) {
		applyOp(t, f2, op)
	}
	second := search(m2)

	if len(first) != len(second) {
		t.Fatalf("replays diverged: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("replays diverged: %v vs %v", first, second)
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	f1, _ := newTestFSM(t)
	for _, op := range writeLog(t) {
		applyOp(t, f1, op)
	}

	snap, err := f1.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	sink := &memorySink{}
	if err := snap.Persist(sink); err != nil {
		t.Fatal(err)
	}
	snap.Release()

	f2, m2 := newTestFSM(t)
	if err := f2.Restore(sink.reader()); err != nil {
		t.Fatal(err)
	}

	c, err := m2.Get("books")
	if err != nil {
		t.Fatal(err)
	}
	doc, err := c.Get("1")
	if err != nil {
		t.Fatal(err)
	}
	if doc["title"] != "first rewritten" {
		t.Fatalf("restored doc = %v", doc)
	}
	res, err := c.Search(collection.SearchParams{Q: "rewritten", QueryBy: []string{"title"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Found != 1 {
		t.Fatalf("found = %d after restore", res.Found)
	}
}

// memorySink is an in-memory raft.SnapshotSink for tests.
type memorySink struct {
	bytes.Buffer
}

func (s *memorySink) ID() string    { return "mem" }
func (s *memorySink) Cancel() error { return nil }
func (s *memorySink) Close() error  { return nil }

func (s *memorySink) reader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(s.Buffer.Bytes()))
}
