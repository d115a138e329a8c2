package scan

import "testing"

func TestBuffer_AppendAndDrain(t *testing.T) {
	var b Buffer

	if b.Size() != 0 {
		t.Errorf("empty buffer size = %d, want 0", b.Size())
	}
	if b.DrainAll() != nil {
		t.Error("DrainAll on empty buffer should return nil")
	}

	for i := 0; i < 5; i++ {
		b.Append(PointRecord{Seq: i})
	}
	if b.Size() != 5 {
		t.Errorf("buffer size = %d, want 5", b.Size())
	}

	points := b.DrainAll()
	if len(points) != 5 {
		t.Fatalf("drained %d points, want 5", len(points))
	}
	for i, p := range points {
		if p.Seq != i {
			t.Errorf("point %d has seq %d", i, p.Seq)
		}
	}

	if b.Size() != 0 {
		t.Errorf("size after drain = %d, want 0", b.Size())
	}
	if b.DrainAll() != nil {
		t.Error("second drain should return nil")
	}
}
