package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	out, rej := Classify(nil)
	assert.Empty(t, out)
	assert.Nil(t, rej)

	out, rej = Classify(fmt.Errorf("place: %w", &RejectError{Code: -2021, PriceDrift: true}))
	assert.Equal(t, OutcomeRejected, out)
	require.NotNil(t, rej)
	assert.True(t, rej.PriceDrift)

	out, _ = Classify(fmt.Errorf("get: %w", ErrOrderNotFound))
	assert.Equal(t, OutcomeNotFound, out)

	out, _ = Classify(context.DeadlineExceeded)
	assert.Equal(t, OutcomeUnknown, out)
	out, _ = Classify(errors.New("connection reset"))
	assert.Equal(t, OutcomeUnknown, out)
}
