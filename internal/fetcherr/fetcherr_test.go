package fetcherr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("get_many: %w", New(Cancelled, context.Canceled))

	assert.True(t, errors.Is(err, &Error{Kind: Cancelled}))
	assert.False(t, errors.Is(err, &Error{Kind: AllFailed}))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, Cancelled, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("other")))
}

func TestErrorMessage(t *testing.T) {
	err := New(AllFailed, errors.New("auth"), "bitcoin", "ethereum")
	assert.Equal(t, "fetch all_failed [bitcoin ethereum]: auth", err.Error())
}
