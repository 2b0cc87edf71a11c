package tsdb

import (
	"context"
	"errors"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// FixtureClient is a canned Client for tests: Windows is returned in order,
// one per call, repeating the last entry once exhausted. Errs, keyed by
// call index, forces that call to fail instead.
type FixtureClient struct {
	Windows []model.SensorWindow
	Errs    map[int]error
	calls   int
}

func (f *FixtureClient) Query(ctx context.Context, params Params) (model.SensorWindow, error) {
	i := f.calls
	f.calls++

	if err, ok := f.Errs[i]; ok {
		return model.SensorWindow{}, err
	}
	if len(f.Windows) == 0 {
		return model.SensorWindow{}, errors.New("fixture has no windows configured")
	}
	if i >= len(f.Windows) {
		i = len(f.Windows) - 1
	}
	return f.Windows[i], nil
}

// Calls reports how many times Query has been invoked.
func (f *FixtureClient) Calls() int {
	return f.calls
}
