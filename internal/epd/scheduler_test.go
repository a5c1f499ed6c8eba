package epd

import "testing"

func TestSchedulerCycle(t *testing.T) {
	for n := uint32(1); n <= 7; n++ {
		s := NewUpdateScheduler(n)
		s.InvalidateLUT()

		fulls := 0
		for i := uint32(0); i < n; i++ {
			p := s.Advance()
			if p.Slot != i {
				t.Fatalf("N=%d: refresh %d scheduled at slot %d", n, i, p.Slot)
			}
			if (p.Mode == ModeFull) != (i == 0) {
				t.Errorf("N=%d: slot %d mode = %v", n, i, p.Mode)
			}
			if p.Mode == ModeFull {
				fulls++
			}
		}
		if fulls != 1 {
			t.Errorf("N=%d: %d full refreshes per cycle, want 1", n, fulls)
		}
		if s.AtUpdate() != 0 {
			t.Errorf("N=%d: counter = %d after a cycle, want 0", n, s.AtUpdate())
		}
	}
}

func TestSchedulerLUTReloads(t *testing.T) {
	s := NewUpdateScheduler(5)
	s.InvalidateLUT()

	want := []struct {
		mode   Mode
		reload bool
	}{
		{ModeFull, true},
		{ModePartial, true},
		{ModePartial, false},
		{ModePartial, false},
		{ModePartial, false},
		{ModeFull, true},
		{ModePartial, true},
	}
	for i, w := range want {
		p := s.Advance()
		if p.Mode != w.mode || p.ReloadLUT != w.reload {
			t.Errorf("refresh #%d: mode=%v reload=%v, want mode=%v reload=%v", i+1, p.Mode, p.ReloadLUT, w.mode, w.reload)
		}
	}
}

func TestSchedulerInvalidateForcesReload(t *testing.T) {
	s := NewUpdateScheduler(5)
	s.Advance()
	s.Advance()
	if p := s.Advance(); p.ReloadLUT {
		t.Fatal("third refresh reloaded the LUT")
	}
	s.InvalidateLUT()
	if p := s.Advance(); !p.ReloadLUT || p.Mode != ModePartial {
		t.Errorf("after invalidate: %+v, want partial with reload", p)
	}
}

func TestSchedulerDisabledCadence(t *testing.T) {
	s := NewUpdateScheduler(0)
	for i := 0; i < 5; i++ {
		p := s.Advance()
		if p.Mode != ModeFull {
			t.Errorf("refresh #%d mode = %v, want full", i+1, p.Mode)
		}
		if p.ReloadLUT != (i == 0) {
			t.Errorf("refresh #%d reload = %v", i+1, p.ReloadLUT)
		}
	}
	if s.AtUpdate() != 0 {
		t.Errorf("counter moved to %d", s.AtUpdate())
	}
}

func TestSchedulerEveryRefreshFull(t *testing.T) {
	s := NewUpdateScheduler(1)
	for i := 0; i < 3; i++ {
		if p := s.Advance(); p.Mode != ModeFull || p.PrevFull {
			t.Errorf("refresh #%d = %+v", i+1, p)
		}
	}
}

func TestSchedulerPrevFull(t *testing.T) {
	s := NewUpdateScheduler(3)
	got := []bool{s.Advance().PrevFull, s.Advance().PrevFull, s.Advance().PrevFull, s.Advance().PrevFull}
	want := []bool{false, true, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("refresh #%d PrevFull = %v, want %v", i+1, got[i], want[i])
		}
	}
}
