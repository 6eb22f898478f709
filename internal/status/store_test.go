package status

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-agent/internal/model"
)

func TestMemoryStoreSetGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Set("job-1", model.PhasePlanning, "Kategorie: DIY", nil)

	got := s.Get("job-1")
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, model.PhasePlanning, got.Phase)
	assert.Equal(t, "Kategorie: DIY", got.Detail)
	assert.Nil(t, got.Payload)
}

func TestMemoryStoreUnknownJob(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	got := s.Get("nope")
	assert.Equal(t, model.PhaseUnknown, got.Phase)
	assert.Equal(t, "job not found", got.Detail)
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Set("job-1", model.PhaseQueued, "", nil)
	s.Set("job-1", model.PhaseDone, "", map[string]any{"report": "x"})

	got := s.Get("job-1")
	assert.Equal(t, model.PhaseDone, got.Phase)
	assert.Equal(t, "x", got.Payload["report"])
}

func TestMemoryStoreReset(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Set("job-1", model.PhaseDone, "", nil)
	s.Reset()
	assert.Equal(t, model.PhaseUnknown, s.Get("job-1").Phase)
}

// Concurrent readers must always observe phase and payload written together,
// never a mix of two writes.
func TestMemoryStoreNoTornReads(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	const iterations = 500
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			if i%2 == 0 {
				s.Set("job-1", model.PhaseSearching, "even", nil)
			} else {
				s.Set("job-1", model.PhaseDone, "odd", map[string]any{"marker": "odd"})
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				st := s.Get("job-1")
				switch st.Phase {
				case model.PhaseSearching:
					if st.Payload != nil || st.Detail != "even" {
						t.Errorf("torn read: %+v", st)
						return
					}
				case model.PhaseDone:
					if st.Payload == nil || st.Detail != "odd" {
						t.Errorf("torn read: %+v", st)
						return
					}
				case model.PhaseUnknown:
					// Writer has not run yet.
				default:
					t.Errorf("unexpected phase %q", st.Phase)
					return
				}
			}
		}()
	}

	wg.Wait()
}

func TestMemoryStoreConcurrentDistinctJobs(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			s.Set(id, model.PhaseDone, "", nil)
		}()
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		require.Equal(t, model.PhaseDone, s.Get(fmt.Sprintf("job-%d", i)).Phase)
	}
}
