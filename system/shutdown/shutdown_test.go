package shutdown

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_ExecutesStepsInOrder(t *testing.T) {
	var order []string
	Run([]Step{
		{Name: "a", Close: func() error { order = append(order, "a"); return nil }},
		{Name: "b", Close: func() error { order = append(order, "b"); return nil }},
	})
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRun_ContinuesPastFailedStep(t *testing.T) {
	var order []string
	Run([]Step{
		{Name: "a", Close: func() error { order = append(order, "a"); return errors.New("boom") }},
		{Name: "b", Close: func() error { order = append(order, "b"); return nil }},
	})
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRun_SkipsNilClose(t *testing.T) {
	assert.NotPanics(t, func() {
		Run([]Step{{Name: "noop"}})
	})
}
