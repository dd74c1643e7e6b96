package address

import "testing"

func TestPacking(t *testing.T) {
	a := Log(17, 123456)
	if a.Kind() != KindLog || a.ID() != 17 || a.Offset() != 123456 {
		t.Errorf("Log address decoded to %s", a)
	}
	if a.IsTombstone() || a.IsRemoved() || !a.IsValid() {
		t.Errorf("Plain log address has wrong flags: %s", a)
	}

	d := Disk(MaxID, MaxOffset)
	if d.Kind() != KindDisk || d.ID() != MaxID || d.Offset() != MaxOffset {
		t.Errorf("Disk address decoded to %s", d)
	}

	tomb := d.WithTombstone()
	if !tomb.IsTombstone() || tomb.ID() != MaxID || tomb.Offset() != MaxOffset || tomb.Kind() != KindDisk {
		t.Errorf("Tombstone flag must not change the location: %s", tomb)
	}
}

func TestSpecialAddresses(t *testing.T) {
	if Invalid.IsValid() || Removed.IsValid() {
		t.Errorf("Invalid and Removed must not name records")
	}
	if !Removed.IsRemoved() || Removed.IsTombstone() {
		t.Errorf("Removed is not a tombstone address")
	}
	if Log(1, 0) == Invalid || Log(1, 0).WithTombstone() == Removed {
		t.Errorf("Real addresses must differ from the markers")
	}
	if Removed.String() != "removed" || Invalid.String() != "invalid" {
		t.Errorf("Unexpected marker names %s / %s", Removed, Invalid)
	}
}

func TestOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic for an id beyond MaxID")
		}
	}()
	Log(MaxID+1, 0)
}
