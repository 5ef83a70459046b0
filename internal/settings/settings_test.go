package settings

import (
	"errors"
	"sync"
	"testing"

	"github.com/overseer-cli/overseer/internal/cliadapter"
	"github.com/overseer-cli/overseer/internal/terminal"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.Terminal != terminal.KindAuto {
		t.Errorf("Terminal = %s, want auto", d.Terminal)
	}
	if d.DefaultCLI != cliadapter.KindClaudeCode {
		t.Errorf("DefaultCLI = %s, want claude_code", d.DefaultCLI)
	}
	if d.ReviewEnabled {
		t.Error("ReviewEnabled should default off")
	}
	if d.ReviewCLI != cliadapter.KindCodex {
		t.Errorf("ReviewCLI = %s, want codex", d.ReviewCLI)
	}
	if d.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", d.MaxConcurrent)
	}
	if err := Validate(d); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
		ok     bool
	}{
		{"defaults", func(s *Snapshot) {}, true},
		{"bad cli", func(s *Snapshot) { s.DefaultCLI = "bash" }, false},
		{"bad review cli", func(s *Snapshot) { s.ReviewCLI = "vim" }, false},
		{"bad terminal", func(s *Snapshot) { s.Terminal = "alacritty" }, false},
		{"zero concurrency", func(s *Snapshot) { s.MaxConcurrent = 0 }, false},
		{"bad language", func(s *Snapshot) { s.Language = "fr" }, false},
		{"threshold overflow", func(s *Snapshot) { s.RestartThreshold = 120 }, false},
		{"chinese language", func(s *Snapshot) { s.Language = "zh" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			err := Validate(s)
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

type recordingPersister struct {
	mu    sync.Mutex
	saves []Snapshot
	fail  error
}

func (p *recordingPersister) SaveSettings(s Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.saves = append(p.saves, s)
	return nil
}

func TestStoreUpdatePublishesAndPersists(t *testing.T) {
	p := &recordingPersister{}
	store := NewStore(Defaults(), p)

	got, err := store.Update(func(s *Snapshot) { s.MaxConcurrent = 5 })
	if err != nil {
		t.Fatal(err)
	}
	if got.MaxConcurrent != 5 {
		t.Errorf("returned MaxConcurrent = %d", got.MaxConcurrent)
	}
	if cur := store.Current(); cur.MaxConcurrent != 5 {
		t.Errorf("Current().MaxConcurrent = %d", cur.MaxConcurrent)
	}
	if len(p.saves) != 1 || p.saves[0].MaxConcurrent != 5 {
		t.Errorf("persister saw %v", p.saves)
	}
}

func TestStoreUpdateRejectsInvalid(t *testing.T) {
	store := NewStore(Defaults(), nil)
	_, err := store.Update(func(s *Snapshot) { s.MaxConcurrent = -1 })
	if err == nil {
		t.Fatal("invalid update should fail")
	}
	if cur := store.Current(); cur.MaxConcurrent != 3 {
		t.Errorf("failed update leaked: MaxConcurrent = %d", cur.MaxConcurrent)
	}
}

func TestStoreUpdateKeepsOldOnPersistFailure(t *testing.T) {
	p := &recordingPersister{fail: errors.New("disk full")}
	store := NewStore(Defaults(), p)

	if _, err := store.Update(func(s *Snapshot) { s.MaxConcurrent = 9 }); err == nil {
		t.Fatal("persist failure should surface")
	}
	if cur := store.Current(); cur.MaxConcurrent != 3 {
		t.Errorf("snapshot published despite persist failure: %d", cur.MaxConcurrent)
	}
}

func TestStoreConcurrentReaders(t *testing.T) {
	store := NewStore(Defaults(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = store.Current()
			}
		}()
	}
	for i := 0; i < 20; i++ {
		n := i%5 + 1
		if _, err := store.Update(func(s *Snapshot) { s.MaxConcurrent = n }); err != nil {
			t.Error(err)
		}
	}
	wg.Wait()
}
