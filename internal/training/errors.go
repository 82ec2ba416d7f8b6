package training

import (
	"fmt"
	"strings"
)

// NumericError aborts a run whose loss or gradients stopped being finite.
type NumericError struct {
	Epoch  int
	Step   int
	Loss   float64
	Scenes []string
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("non-finite loss %v at epoch %d step %d (scenes %s)",
		e.Loss, e.Epoch, e.Step, strings.Join(e.Scenes, ","))
}
