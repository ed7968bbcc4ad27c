package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	notFound := NotFound("job_not_found", "任务不存在")

	assert.ErrorIs(t, notFound, ErrNotFound)
	assert.ErrorIs(t, notFound, NotFound("job_not_found", "other message"))
	assert.NotErrorIs(t, notFound, NotFound("user_not_found", ""))
	assert.NotErrorIs(t, notFound, ErrValidation)

	wrapped := fmt.Errorf("load job: %w", notFound)
	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.True(t, IsKind(wrapped, KindNotFound))
}

func TestWithDetails_Copy(t *testing.T) {
	base := Validation("invalid_progress", "进度必须在 0-100 之间")
	withDetails := base.WithDetails(map[string]interface{}{"progress_percent": 120})

	assert.Nil(t, base.Details)
	assert.Equal(t, 120, withDetails.Details["progress_percent"])
	assert.ErrorIs(t, withDetails, base)
}

func TestInfrastructure(t *testing.T) {
	assert.Nil(t, Infrastructure(nil))

	raw := errors.New("connection refused")
	err := Infrastructure(raw)
	assert.ErrorIs(t, err, raw)
	assert.Equal(t, KindInfrastructure, KindOf(err))

	biz := Conflict("job_already_claimed", "")
	assert.Same(t, biz, Infrastructure(biz))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInfrastructure, KindOf(errors.New("boom")))
	assert.Equal(t, KindInvalidTransition, KindOf(InvalidTransition("completed", "pending")))
	assert.False(t, IsKind(nil, KindValidation))
}
