package embedding_test

import (
	"sync"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/aethonlab/mnemo/pkg/service/embedding"
)

func TestAvailability(t *testing.T) {
	a := embedding.NewAvailability()
	gt.True(t, a.Enabled())
	gt.Equal(t, a.Reason(), "")

	a.Disable("quota exceeded")
	gt.False(t, a.Enabled())
	gt.Equal(t, a.Reason(), "quota exceeded")

	// The first reason wins
	a.Disable("different failure")
	gt.Equal(t, a.Reason(), "quota exceeded")
}

func TestAvailabilityConcurrent(t *testing.T) {
	a := embedding.NewAvailability()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Disable("failure")
			_ = a.Enabled()
			_ = a.Reason()
		}()
	}
	wg.Wait()

	gt.False(t, a.Enabled())
	gt.Equal(t, a.Reason(), "failure")
}
