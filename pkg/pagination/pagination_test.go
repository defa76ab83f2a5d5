package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, MaxLimit + 1: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
	if LimitWithBuffer(10) != 11 {
		t.Fatal("expected look-ahead row")
	}
}

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC), ID: uuid.New()}
	out, err := ParseCursor(EncodeCursor(in))
	if err != nil {
		t.Fatalf("ParseCursor: %v", err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.ID != in.ID {
		t.Fatalf("expected %+v got %+v", in, out)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor("  "); err != nil || c != nil {
		t.Fatalf("blank cursor should be nil, got %v %v", c, err)
	}
	for _, raw := range []string{"%%%", "bm8tcGlwZQ", EncodeCursor(Cursor{})[:4]} {
		if _, err := ParseCursor(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestBuildPage(t *testing.T) {
	type row struct {
		id uuid.UUID
		at time.Time
	}
	base := time.Now().UTC()
	rows := []row{{uuid.New(), base}, {uuid.New(), base.Add(-time.Minute)}, {uuid.New(), base.Add(-2 * time.Minute)}}
	cursorOf := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page := BuildPage(rows, 2, cursorOf)
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	next, err := ParseCursor(page.NextCursor)
	if err != nil || next.ID != rows[1].id {
		t.Fatalf("next cursor should point at the last served row, got %+v %v", next, err)
	}

	last := BuildPage(rows[:1], 2, cursorOf)
	if last.NextCursor != "" {
		t.Fatal("final page must not carry a cursor")
	}
	empty := BuildPage[row](nil, 2, cursorOf)
	if empty.Items == nil {
		t.Fatal("empty pages serialize as [] not null")
	}
}

func TestKeysetResumesAfterCursor(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	type entry struct {
		ID        uuid.UUID `gorm:"type:text;primaryKey"`
		CreatedAt time.Time
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := db.Create(&entry{ID: uuid.New(), CreatedAt: base.Add(time.Duration(i) * time.Minute)}).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	cursorOf := func(e entry) Cursor { return Cursor{CreatedAt: e.CreatedAt, ID: e.ID} }

	var seen []entry
	var cursor *Cursor
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
		var rows []entry
		if err := db.Scopes(Keyset(cursor, 2)).Find(&rows).Error; err != nil {
			t.Fatalf("query: %v", err)
		}
		page := BuildPage(rows, 2, cursorOf)
		seen = append(seen, page.Items...)
		if page.NextCursor == "" {
			break
		}
		if cursor, err = ParseCursor(page.NextCursor); err != nil {
			t.Fatalf("parse: %v", err)
		}
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 rows across pages, got %d", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if !seen[i].CreatedAt.Before(seen[i-1].CreatedAt) {
			t.Fatalf("rows out of order at %d", i)
		}
	}
}
