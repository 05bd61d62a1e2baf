package progress

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandlerProgress(t *testing.T) {
	h := NewHandler(quietLogger())
	h.SetMaxProgress(10)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.IncreaseProgress()
		}()
	}
	wg.Wait()

	cur, max := h.Progress()
	assert.Equal(t, 10, cur)
	assert.Equal(t, 10, max)

	h.SetMaxProgress(3)
	cur, _ = h.Progress()
	assert.Equal(t, 0, cur)
}

func TestHandlerCancel(t *testing.T) {
	h := NewHandler(quietLogger())
	assert.False(t, h.IsCancelled())
	h.Cancel()
	h.Cancel()
	assert.True(t, h.IsCancelled())
}

func TestHandlerReport(t *testing.T) {
	h := NewHandler(quietLogger())
	h.AppendReport("Computing assumptions probabilities.")
	h.AppendReport("Saving assumptions probabilities.")
	assert.Equal(t, "Computing assumptions probabilities.\nSaving assumptions probabilities.", h.Report())
}

func TestLogExceptions(t *testing.T) {
	l := &LogExceptions{Logger: quietLogger(), Limit: 2}
	assert.False(t, l.Catch(errors.New("first")))
	assert.True(t, l.Catch(errors.New("second")))
	assert.Len(t, l.Errors(), 2)

	unlimited := &LogExceptions{Logger: quietLogger()}
	for i := 0; i < 5; i++ {
		assert.False(t, unlimited.Catch(errors.New("x")))
	}
}
