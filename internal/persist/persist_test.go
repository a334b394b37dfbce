package persist_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/panda-fpga/pandad/internal/entity"
	"github.com/panda-fpga/pandad/internal/fieldtype"
	"github.com/panda-fpga/pandad/internal/persist"
)

func buildEntity(val *string, tableRows *[]string) *entity.Entity {
	e := entity.NewEntity()
	block := entity.NewBlock("PULSE", 1)

	scalar := entity.NewField("WIDTH", 1, entity.ClassParam, fieldtype.Enum{Entries: []string{"0", "1"}},
		func(int) (string, error) { return *val, nil },
		func(_ int, v string) error { *val = v; return nil })
	block.AddField(scalar)

	table := entity.NewField("TABLE", 1, entity.ClassTable, fieldtype.TableDescriptor{},
		nil,
		func(_ int, payload string) error {
			*tableRows = append(*tableRows, payload)
			return nil
		})
	attr, _ := table.Attribute("")
	attr.GetMany = func(int) ([]string, error) { return *tableRows, nil }
	block.AddField(table)

	e.AddBlock(block)
	return e
}

func TestReplayAppliesWritesAndTables(t *testing.T) {
	var val string
	var rows []string
	e := buildEntity(&val, &rows)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	content := "PULSE[0].WIDTH=1\nPULSE[0].TABLE<\n10\n20\n\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	n, err := persist.Replay(e, path)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 records replayed, got %d", n)
	}
	if val != "1" {
		t.Fatalf("want WIDTH=1, got %q", val)
	}
	if len(rows) != 1 || rows[0] != "REPLACE\n10\n20" {
		t.Fatalf("unexpected table payload: %#v", rows)
	}
}

func TestReplayMissingFileIsNotError(t *testing.T) {
	var val string
	var rows []string
	e := buildEntity(&val, &rows)

	n, err := persist.Replay(e, filepath.Join(t.TempDir(), "nonexistent.txt"))
	if err != nil {
		t.Fatalf("replay missing file: %v", err)
	}
	if n != 0 {
		t.Fatalf("want 0 records, got %d", n)
	}
}

func TestWriterWritesOnChangeAndForcesFinal(t *testing.T) {
	var val string
	var rows []string
	e := buildEntity(&val, &rows)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")

	w := persist.New(path, e, persist.Intervals{
		Poll:    10 * time.Millisecond,
		Holdoff: 5 * time.Millisecond,
		Backoff: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	res, err := e.Resolve("PULSE.WIDTH")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := res.Attribute.Put(res.Instance, "1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	e.Bump(res.Field, res.Instance, res.AttrName)

	deadline := time.After(2 * time.Second)
	for {
		if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for background write")
		case <-time.After(10 * time.Millisecond):
		}
	}

	w.Stop()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	if string(b) != "PULSE.WIDTH=1\n" {
		t.Fatalf("unexpected persisted content: %q", string(b))
	}
}

// buildTwoFieldEntity wires two independent scalar fields in separate blocks,
// so a test can change one, let it persist, then change the other and check
// the first value wasn't dropped from the rewritten snapshot.
func buildTwoFieldEntity(a, b *string) *entity.Entity {
	e := entity.NewEntity()

	blockA := entity.NewBlock("PULSE", 1)
	fieldA := entity.NewField("WIDTH", 1, entity.ClassParam, fieldtype.Enum{Entries: []string{"0", "1"}},
		func(int) (string, error) { return *a, nil },
		func(_ int, v string) error { *a = v; return nil })
	blockA.AddField(fieldA)
	e.AddBlock(blockA)

	blockB := entity.NewBlock("SEQ", 1)
	fieldB := entity.NewField("PRESCALE", 1, entity.ClassParam, fieldtype.Enum{Entries: []string{"0", "1"}},
		func(int) (string, error) { return *b, nil },
		func(_ int, v string) error { *b = v; return nil })
	blockB.AddField(fieldB)
	e.AddBlock(blockB)

	return e
}

// TestWriterLaterWritePreservesEarlierUntouchedValue guards against a
// snapshot-rewrite regression where a later write, triggered by a change to
// one field, silently drops an earlier field's value because it wasn't
// touched since the previous write's watermark. writeSnapshot must always
// enumerate every changed entity from baseline zero, not just those changed
// since the last write.
func TestWriterLaterWritePreservesEarlierUntouchedValue(t *testing.T) {
	var a, b string
	e := buildTwoFieldEntity(&a, &b)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")

	w := persist.New(path, e, persist.Intervals{
		Poll:    10 * time.Millisecond,
		Holdoff: 5 * time.Millisecond,
		Backoff: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	resA, err := e.Resolve("PULSE.WIDTH")
	if err != nil {
		t.Fatalf("resolve A: %v", err)
	}
	if err := resA.Attribute.Put(resA.Instance, "1"); err != nil {
		t.Fatalf("put A: %v", err)
	}
	e.Bump(resA.Field, resA.Instance, resA.AttrName)

	waitForContent := func(want string) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			if b, err := os.ReadFile(path); err == nil && string(b) == want {
				return
			}
			select {
			case <-deadline:
				t.Fatalf("timed out waiting for content %q", want)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
	waitForContent("PULSE.WIDTH=1\n")

	resB, err := e.Resolve("SEQ.PRESCALE")
	if err != nil {
		t.Fatalf("resolve B: %v", err)
	}
	if err := resB.Attribute.Put(resB.Instance, "1"); err != nil {
		t.Fatalf("put B: %v", err)
	}
	e.Bump(resB.Field, resB.Instance, resB.AttrName)

	deadline := time.After(2 * time.Second)
	for {
		b, err := os.ReadFile(path)
		if err == nil && strings.Contains(string(b), "SEQ.PRESCALE=1") {
			if !strings.Contains(string(b), "PULSE.WIDTH=1") {
				t.Fatalf("second write dropped earlier untouched value: %q", string(b))
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for second write")
		case <-time.After(10 * time.Millisecond):
		}
	}

	w.Stop()
}

func TestWriterNoWriteWithoutChanges(t *testing.T) {
	var val string
	var rows []string
	e := buildEntity(&val, &rows)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")

	w := persist.New(path, e, persist.Intervals{
		Poll:    5 * time.Millisecond,
		Holdoff: 5 * time.Millisecond,
		Backoff: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file written absent changes, stat err=%v", err)
	}
}
